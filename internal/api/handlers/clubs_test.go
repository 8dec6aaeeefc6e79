package handlers

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trekmate/internal/club"
	"trekmate/internal/types"
)

type mockAnalyzer struct {
	analyzeFn    func(ctx context.Context, clubID, callerID string) (*club.Analysis, error)
	activeTrekFn func(ctx context.Context, clubID string) (*club.TrekStatus, error)
}

func (m *mockAnalyzer) Analyze(ctx context.Context, clubID, callerID string) (*club.Analysis, error) {
	return m.analyzeFn(ctx, clubID, callerID)
}

func (m *mockAnalyzer) ActiveTrek(ctx context.Context, clubID string) (*club.TrekStatus, error) {
	return m.activeTrekFn(ctx, clubID)
}

func clubRouter(analyzer ClubAnalyzerInterface) *chi.Mux {
	h := NewClubHandler(analyzer, slog.New(slog.NewTextHandler(io.Discard, nil)))
	r := chi.NewRouter()
	// The test router injects identity the same way the chassis middleware
	// does, reading the X-User-ID header into the context.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if userID := req.Header.Get("X-User-ID"); userID != "" {
				req = req.WithContext(types.WithUserID(req.Context(), userID))
			}
			next.ServeHTTP(w, req)
		})
	})
	h.RegisterRoutes(r)
	return r
}

func TestHandleAnalyze_Success(t *testing.T) {
	analyzer := &mockAnalyzer{
		analyzeFn: func(_ context.Context, clubID, callerID string) (*club.Analysis, error) {
			assert.Equal(t, "club_1", clubID)
			assert.Equal(t, "user_leader", callerID)
			return &club.Analysis{
				ClubID:   clubID,
				IsActive: true,
				Summary:  types.ClassSummary{OnPace: 2, Lagging: 1},
			}, nil
		},
	}
	router := clubRouter(analyzer)

	r := httptest.NewRequest(http.MethodPost, "/clubs/club_1/analyze", nil)
	r.Header.Set("X-User-ID", "user_leader")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"success":true`)
	assert.Contains(t, w.Body.String(), `"isActive":true`)
	assert.Contains(t, w.Body.String(), `"groupMetrics"`)
	assert.Contains(t, w.Body.String(), `"onPace":2`)
	assert.Contains(t, w.Body.String(), `"lagging":1`)
	assert.Contains(t, w.Body.String(), `"timestamp"`)
}

func TestHandleAnalyze_MissingIdentity(t *testing.T) {
	analyzer := &mockAnalyzer{
		analyzeFn: func(context.Context, string, string) (*club.Analysis, error) {
			t.Fatal("analyzer must not be called without identity")
			return nil, nil
		},
	}
	router := clubRouter(analyzer)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/clubs/club_1/analyze", nil))

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), string(types.ErrCodeAuthIdentityMissing))
}

func TestHandleAnalyze_NotLeaderForbidden(t *testing.T) {
	analyzer := &mockAnalyzer{
		analyzeFn: func(context.Context, string, string) (*club.Analysis, error) {
			return nil, types.NewAppError(types.ErrCodePermissionNotLeader,
				"only the club leader may run a trek analysis", nil)
		},
	}
	router := clubRouter(analyzer)

	r := httptest.NewRequest(http.MethodPost, "/clubs/club_1/analyze", nil)
	r.Header.Set("X-User-ID", "user_member")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestHandleAnalyze_ClubNotFound(t *testing.T) {
	analyzer := &mockAnalyzer{
		analyzeFn: func(context.Context, string, string) (*club.Analysis, error) {
			return nil, types.NewAppError(types.ErrCodeNotFoundClub, "club not found", nil)
		},
	}
	router := clubRouter(analyzer)

	r := httptest.NewRequest(http.MethodPost, "/clubs/missing/analyze", nil)
	r.Header.Set("X-User-ID", "user_leader")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandleActiveTrek_NoIdentityRequired(t *testing.T) {
	analyzer := &mockAnalyzer{
		activeTrekFn: func(_ context.Context, clubID string) (*club.TrekStatus, error) {
			return &club.TrekStatus{ClubID: clubID, IsActive: true, MemberCount: 4, LeaderName: "Lena"}, nil
		},
	}
	router := clubRouter(analyzer)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/clubs/club_1/active-trek", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"isActive":true`)
	assert.Contains(t, w.Body.String(), `"memberCount":4`)
	assert.Contains(t, w.Body.String(), `"leaderName":"Lena"`)
}
