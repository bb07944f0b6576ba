package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asteroid-belt/fieldsync/internal/models"
)

func TestPutEntity_UpsertKeepsInsertionOrder(t *testing.T) {
	db := testDB(t)

	for _, id := range []string{"b", "a", "c"} {
		require.NoError(t, db.PutEntity(&models.Entity{
			EntityType: models.EntityTypeInspection,
			ID:         id,
			Payload:    []byte(`{"v":1}`),
			Offline:    true,
		}))
	}

	// Updating "b" must not move it to the end.
	require.NoError(t, db.PutEntity(&models.Entity{
		EntityType: models.EntityTypeInspection,
		ID:         "b",
		Payload:    []byte(`{"v":2}`),
		Offline:    true,
	}))

	entities, err := db.GetEntities(models.EntityTypeInspection)
	require.NoError(t, err)
	require.Len(t, entities, 3)
	assert.Equal(t, "b", entities[0].ID)
	assert.Equal(t, "a", entities[1].ID)
	assert.Equal(t, "c", entities[2].ID)
	assert.JSONEq(t, `{"v":2}`, string(entities[0].Payload))
	assert.False(t, entities[0].LastModified.IsZero())
}

func TestPutEntity_RequiresKey(t *testing.T) {
	db := testDB(t)

	err := db.PutEntity(&models.Entity{EntityType: models.EntityTypeInspection})
	assert.ErrorIs(t, err, ErrInvalidRecord)

	err = db.PutEntity(&models.Entity{ID: "x"})
	assert.ErrorIs(t, err, ErrInvalidRecord)
}

func TestPutEntity_TypesArePartitioned(t *testing.T) {
	db := testDB(t)

	require.NoError(t, db.PutEntity(&models.Entity{EntityType: models.EntityTypeInspection, ID: "same"}))
	require.NoError(t, db.PutEntity(&models.Entity{EntityType: models.EntityTypeComment, ID: "same"}))

	inspections, err := db.GetEntities(models.EntityTypeInspection)
	require.NoError(t, err)
	assert.Len(t, inspections, 1)

	comments, err := db.GetEntities(models.EntityTypeComment)
	require.NoError(t, err)
	assert.Len(t, comments, 1)

	types, err := db.EntityTypes()
	require.NoError(t, err)
	assert.Equal(t, []string{models.EntityTypeComment, models.EntityTypeInspection}, types)
}

func TestGetEntitiesByIndex(t *testing.T) {
	db := testDB(t)

	require.NoError(t, db.PutEntity(&models.Entity{EntityType: models.EntityTypeComment, ID: "c1", ParentID: "i1", Offline: true}))
	require.NoError(t, db.PutEntity(&models.Entity{EntityType: models.EntityTypeComment, ID: "c2", ParentID: "i2", Offline: false}))
	require.NoError(t, db.PutEntity(&models.Entity{EntityType: models.EntityTypeComment, ID: "c3", ParentID: "i1", Offline: false}))

	byParent, err := db.GetEntitiesByIndex(models.EntityTypeComment, IndexParentID, "i1")
	require.NoError(t, err)
	require.Len(t, byParent, 2)
	assert.Equal(t, "c1", byParent[0].ID)
	assert.Equal(t, "c3", byParent[1].ID)

	offline, err := db.GetEntitiesByIndex(models.EntityTypeComment, IndexOffline, true)
	require.NoError(t, err)
	require.Len(t, offline, 1)
	assert.Equal(t, "c1", offline[0].ID)

	online, err := db.GetEntitiesByIndex(models.EntityTypeComment, IndexOffline, "false")
	require.NoError(t, err)
	assert.Len(t, online, 2)

	_, err = db.GetEntitiesByIndex(models.EntityTypeComment, "title", "x")
	assert.ErrorIs(t, err, ErrUnknownIndex)
}

func TestRemoveAndClearEntities(t *testing.T) {
	db := testDB(t)

	require.NoError(t, db.PutEntity(&models.Entity{EntityType: models.EntityTypeComment, ID: "c1"}))
	require.NoError(t, db.PutEntity(&models.Entity{EntityType: models.EntityTypeComment, ID: "c2"}))
	require.NoError(t, db.PutEntity(&models.Entity{EntityType: models.EntityTypeInspection, ID: "i1"}))

	require.NoError(t, db.RemoveEntity(models.EntityTypeComment, "c1"))
	require.NoError(t, db.RemoveEntity(models.EntityTypeComment, "missing"))

	_, err := db.GetEntity(models.EntityTypeComment, "c1")
	assert.ErrorIs(t, err, ErrNotFound)

	n, err := db.ClearEntities(models.EntityTypeComment)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	// Other partitions untouched.
	inspections, err := db.GetEntities(models.EntityTypeInspection)
	require.NoError(t, err)
	assert.Len(t, inspections, 1)
}

func TestPhotos(t *testing.T) {
	db := testDB(t)

	_, err := db.GetPhoto("missing")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, db.PutPhoto(&models.Photo{ID: "p0"}), ErrInvalidRecord)

	require.NoError(t, db.PutPhoto(&models.Photo{ID: "p1", ParentType: models.EntityTypeInspection, ParentID: "i1", MIMEType: "image/jpeg", Data: []byte{0xff, 0xd8}, Offline: true}))
	require.NoError(t, db.PutPhoto(&models.Photo{ID: "p2", ParentType: models.EntityTypeInspection, ParentID: "i1", MIMEType: "image/png", Data: []byte{0x89}, Offline: true}))
	require.NoError(t, db.PutPhoto(&models.Photo{ID: "p3", ParentType: models.EntityTypeInspection, ParentID: "i2", MIMEType: "image/png", Data: []byte{0x89}, Offline: true}))

	photo, err := db.GetPhoto("p1")
	require.NoError(t, err)
	assert.Equal(t, []byte{0xff, 0xd8}, photo.Data)
	assert.Equal(t, int64(2), photo.Size)
	assert.NotEmpty(t, photo.SHA256)

	byParent, err := db.GetPhotosByParent("i1")
	require.NoError(t, err)
	require.Len(t, byParent, 2)
	assert.Equal(t, "p1", byParent[0].ID)

	require.NoError(t, db.SetPhotoOffline("p1", false))
	photo, err = db.GetPhoto("p1")
	require.NoError(t, err)
	assert.False(t, photo.Offline)

	n, err := db.ClearPhotos()
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}
