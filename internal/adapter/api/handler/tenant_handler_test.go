package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/V4T54L/schoolpulse/internal/domain"
)

func TestTenantHandler(t *testing.T) {
	tests := []struct {
		name           string
		poolErr        error
		queryErr       error
		devMode        bool
		expectedStatus int
		expectedCode   string
		expectDetail   bool
	}{
		{name: "routed", expectedStatus: http.StatusOK},
		{name: "pool timeout", poolErr: domain.ErrPoolTimeout, expectedStatus: http.StatusServiceUnavailable, expectedCode: "pool_timeout"},
		{name: "query failure", queryErr: errors.New("relation missing"), expectedStatus: http.StatusInternalServerError, expectedCode: "query_failed"},
		{name: "query failure in dev mode", queryErr: errors.New("relation missing"), devMode: true, expectedStatus: http.StatusInternalServerError, expectedCode: "query_failed", expectDetail: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
			require.NoError(t, err)
			defer db.Close()

			if tt.poolErr == nil {
				exp := mock.ExpectQuery("SELECT current_database()")
				if tt.queryErr != nil {
					exp.WillReturnError(tt.queryErr)
				} else {
					exp.WillReturnRows(sqlmock.NewRows([]string{"current_database"}).AddRow("alpha_db"))
				}
			}

			routed := domain.RoutedTenant{Pool: &dbPool{db: db, err: tt.poolErr}, Name: "alpha", ID: 1}
			req := httptest.NewRequest(http.MethodGet, "/api/v1/tenant", nil)
			ctx := domain.ContextWithIdentity(req.Context(), alphaParent)
			req = req.WithContext(domain.ContextWithTenant(ctx, routed))
			rr := httptest.NewRecorder()

			NewTenantHandler(discardLogger(), tt.devMode).ServeHTTP(rr, req)

			assert.Equal(t, tt.expectedStatus, rr.Code)
			assert.NoError(t, mock.ExpectationsWereMet())

			if tt.expectedCode == "" {
				var info TenantInfo
				require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &info))
				assert.Equal(t, TenantInfo{Tenant: "alpha", TenantID: 1, Database: "alpha_db", UserID: 1, Role: "parent"}, info)
				return
			}
			var body struct {
				Error  string `json:"error"`
				Detail string `json:"detail"`
			}
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
			assert.Equal(t, tt.expectedCode, body.Error)
			assert.Equal(t, tt.expectDetail, body.Detail != "")
		})
	}
}

func TestTenantHandler_RequiresRoutedRequest(t *testing.T) {
	rr := httptest.NewRecorder()
	NewTenantHandler(discardLogger(), false).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/tenant", nil))
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
}
