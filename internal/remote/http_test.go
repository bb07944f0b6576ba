package remote

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/asteroid-belt/fieldsync/internal/models"
	"github.com/asteroid-belt/fieldsync/pkg/version"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPClient_ApplyEntity(t *testing.T) {
	var (
		gotPath string
		gotAuth string
		gotKey  string
		gotBody syncRequest
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotKey = r.Header.Get("Idempotency-Key")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL+"/", "tok", 100)
	err := c.Apply(context.Background(), Mutation{
		QueueID:    42,
		Action:     models.ActionCreate,
		TargetType: "inspections",
		TargetID:   "insp-1",
		Payload:    json.RawMessage(`{"site":"A"}`),
	})
	require.NoError(t, err)

	assert.Equal(t, "/sync/inspections/insp-1", gotPath)
	assert.Equal(t, "Bearer tok", gotAuth)
	assert.Equal(t, "fieldsync-42", gotKey)
	assert.Equal(t, uint64(42), gotBody.QueueID)
	assert.Equal(t, models.ActionCreate, gotBody.Action)
	assert.JSONEq(t, `{"site":"A"}`, string(gotBody.Payload))
}

func TestHTTPClient_DeviceScopedIdempotencyKey(t *testing.T) {
	var keys []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		keys = append(keys, r.Header.Get("Idempotency-Key"))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	m := Mutation{QueueID: 7, Action: models.ActionUpdate, TargetType: "comment", TargetID: "c-1", Payload: json.RawMessage(`{}`)}

	a := NewHTTPClient(srv.URL, "", 100)
	a.SetDeviceID("device-a")
	b := NewHTTPClient(srv.URL, "", 100)
	b.SetDeviceID("device-b")

	require.NoError(t, a.Apply(context.Background(), m))
	require.NoError(t, a.Apply(context.Background(), m))
	require.NoError(t, b.Apply(context.Background(), m))

	require.Len(t, keys, 3)
	assert.Equal(t, keys[0], keys[1], "retries reuse the key")
	assert.NotEqual(t, keys[0], keys[2], "devices do not collide")
	assert.True(t, strings.HasPrefix(keys[0], "fieldsync-"))

	var _ DeviceScoped = a
}

func TestHTTPClient_ApplyPhoto(t *testing.T) {
	var (
		gotPath     string
		gotType     string
		gotParent   string
		gotBytes    []byte
		gotManifest models.PhotoManifest
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotParent = r.Header.Get("X-Parent-Type") + "/" + r.Header.Get("X-Parent-Id")
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		_ = json.Unmarshal([]byte(r.FormValue("manifest")), &gotManifest)
		file, header, err := r.FormFile("photo")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer file.Close()
		gotType = header.Header.Get("Content-Type")
		gotBytes, _ = io.ReadAll(file)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "", 100)
	err := c.Apply(context.Background(), Mutation{
		QueueID:    1,
		Action:     models.ActionUpload,
		TargetType: models.EntityTypePhoto,
		TargetID:   "p1",
		Photo: &PhotoUpload{
			MIMEType:   "image/jpeg",
			ParentType: "inspections",
			ParentID:   "insp-1",
			Caption:    "crack, east side",
			SHA256:     "abc",
			Data:       []byte{0xff, 0xd8, 0xff},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "/photos/p1", gotPath)
	assert.Equal(t, "image/jpeg", gotType)
	assert.Equal(t, "inspections/insp-1", gotParent)
	assert.Equal(t, []byte{0xff, 0xd8, 0xff}, gotBytes)

	assert.Equal(t, "p1", gotManifest.ID)
	assert.Equal(t, "crack, east side", gotManifest.Caption)
	assert.Equal(t, "abc", gotManifest.SHA256)
	assert.Equal(t, int64(3), gotManifest.Size)
	assert.Equal(t, "inspections", gotManifest.ParentType)
	assert.Equal(t, "insp-1", gotManifest.ParentID)
	assert.Equal(t, "image/jpeg", gotManifest.MIMEType)
}

func TestHTTPClient_UploadWithoutPhotoIsPermanent(t *testing.T) {
	c := NewHTTPClient("http://127.0.0.1:1", "", 100)
	err := c.Apply(context.Background(), Mutation{Action: models.ActionUpload, TargetID: "p1"})
	assert.ErrorIs(t, err, ErrPermanent)
}

func TestHTTPClient_StatusClassification(t *testing.T) {
	tests := []struct {
		status int
		want   Outcome
	}{
		{http.StatusOK, Success},
		{http.StatusNoContent, Success},
		{http.StatusBadRequest, Permanent},
		{http.StatusNotFound, Permanent},
		{http.StatusConflict, Permanent},
		{http.StatusUnprocessableEntity, Permanent},
		{http.StatusUnauthorized, Transient},
		{http.StatusForbidden, Transient},
		{http.StatusRequestTimeout, Transient},
		{http.StatusTooEarly, Transient},
		{http.StatusTooManyRequests, Transient},
		{http.StatusInternalServerError, Transient},
		{http.StatusServiceUnavailable, Transient},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte("detail"))
			}))
			defer srv.Close()

			c := NewHTTPClient(srv.URL, "", 100)
			err := c.Apply(context.Background(), Mutation{
				QueueID: 1, Action: models.ActionUpdate, TargetType: "comments", TargetID: "c1",
			})
			assert.Equal(t, tt.want, Classify(err))

			if tt.want != Success {
				var se *StatusError
				require.ErrorAs(t, err, &se)
				assert.Equal(t, tt.status, se.Code)
				assert.Equal(t, "detail", se.Body)
			}
		})
	}
}

func TestHTTPClient_TransportErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	c := NewHTTPClient(url, "", 100)
	err := c.Apply(context.Background(), Mutation{Action: models.ActionCreate, TargetType: "comments", TargetID: "c1"})
	assert.ErrorIs(t, err, ErrTransient)
}

func TestHTTPClient_TimeoutIsTransient(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	c := NewHTTPClient(srv.URL, "", 100)
	err := c.Apply(ctx, Mutation{Action: models.ActionCreate, TargetType: "comments", TargetID: "c1"})
	assert.ErrorIs(t, err, ErrTransient)
	assert.Equal(t, Transient, Classify(err))
}

func TestHTTPClient_NoBaseURL(t *testing.T) {
	c := NewHTTPClient("", "", 0)
	err := c.Apply(context.Background(), Mutation{Action: models.ActionCreate})
	assert.ErrorIs(t, err, ErrTransient)
}

func TestHTTPClient_MinClientVersion(t *testing.T) {
	origVersion := version.Version
	version.Version = "v1.0.0"
	defer func() { version.Version = origVersion }()

	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		assert.True(t, strings.HasPrefix(r.Header.Get("User-Agent"), "fieldsync/"))
		w.Header().Set(MinClientHeader, "9.0.0")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "", 100)
	m := Mutation{Action: models.ActionCreate, TargetType: "comments", TargetID: "c1"}

	require.NoError(t, c.Apply(context.Background(), m))
	assert.Equal(t, "9.0.0", c.MinClientVersion())

	err := c.Apply(context.Background(), m)
	assert.ErrorIs(t, err, ErrTransient)
	assert.Equal(t, 1, hits, "outdated client stops sending")
}
