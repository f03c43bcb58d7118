package usecase

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/V4T54L/schoolpulse/internal/domain"
)

func TestPublishEventUseCase_Publish(t *testing.T) {
	hub := NewSessionHub([]string{"alpha"}, HubConfig{}, nil, discardLogger(), nil)
	alpha, _ := hub.Scope("alpha")
	parent := alpha.Registry.Register("P", owner(1, domain.RoleParent))
	staff := alpha.Registry.Register("S", owner(2, domain.RoleStaffAssociate))
	require.NoError(t, alpha.Registry.Join("S", "class:5b"))
	watcher := hub.Anonymous().Registry.Register("W", domain.SessionOwner{})
	require.NoError(t, hub.Anonymous().Registry.Join("W", "status"))

	uc := NewPublishEventUseCase(hub, discardLogger())

	tests := []struct {
		name     string
		req      PublishRequest
		want     int
		wantErr  error
		receiver *Session
	}{
		{
			name:     "role",
			req:      PublishRequest{Tenant: "alpha", Target: domain.Target{Kind: domain.TargetRole, Name: "parent"}, Event: "checkin"},
			want:     1,
			receiver: parent,
		},
		{
			name:     "user",
			req:      PublishRequest{Tenant: "alpha", Target: domain.Target{Kind: domain.TargetUser, Name: "2"}, Event: "alert", Payload: json.RawMessage(`{"id":9}`)},
			want:     1,
			receiver: staff,
		},
		{
			name:     "topic",
			req:      PublishRequest{Tenant: "alpha", Target: domain.Target{Kind: domain.TargetGroup, Name: "class:5b"}, Event: "notice"},
			want:     1,
			receiver: staff,
		},
		{
			name:     "anonymous topic",
			req:      PublishRequest{Tenant: AnonymousScope, Target: domain.Target{Kind: domain.TargetGroup, Name: "status"}, Event: "maintenance"},
			want:     1,
			receiver: watcher,
		},
		{
			name:    "unknown tenant",
			req:     PublishRequest{Tenant: "gamma", Target: domain.Target{Kind: domain.TargetRole, Name: "parent"}, Event: "x"},
			wantErr: domain.ErrUnknownTenant,
		},
		{
			name:    "anonymous user target",
			req:     PublishRequest{Tenant: AnonymousScope, Target: domain.Target{Kind: domain.TargetUser, Name: "1"}, Event: "x"},
			wantErr: domain.ErrInvalidGroup,
		},
		{
			name:    "bad role",
			req:     PublishRequest{Tenant: "alpha", Target: domain.Target{Kind: domain.TargetRole, Name: "janitor"}, Event: "x"},
			wantErr: domain.ErrInvalidGroup,
		},
		{
			name:    "reserved topic",
			req:     PublishRequest{Tenant: "alpha", Target: domain.Target{Kind: domain.TargetGroup, Name: "user:1"}, Event: "x"},
			wantErr: domain.ErrInvalidGroup,
		},
		{
			name: "nobody listening",
			req:  PublishRequest{Tenant: "alpha", Target: domain.Target{Kind: domain.TargetUser, Name: "99"}, Event: "x"},
			want: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := uc.Publish(context.Background(), tt.req)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, n)
			if tt.receiver != nil {
				got := drain(tt.receiver)
				require.Len(t, got, 1)
				assert.Equal(t, tt.req.Event, got[0].Name)
			}
		})
	}
}
