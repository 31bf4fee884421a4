package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/photoindex/internal/datastore"
)

// jsonContext builds a context with a JSON body and path parameters.
func jsonContext(e *echo.Echo, method, body string, pairs ...string) (echo.Context, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(method, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	names := make([]string, 0, len(pairs)/2)
	values := make([]string, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		names = append(names, pairs[i])
		values = append(values, pairs[i+1])
	}
	c.SetParamNames(names...)
	c.SetParamValues(values...)
	return c, rec
}

// seedPersons builds two recognized people:
//
//	Alice  2 photos (paris, helsinki), 2 faces
//	Bob    1 photo (paris), 1 face
func seedPersons(t *testing.T, ds datastore.Interface) (alice, bob *datastore.Person) {
	t.Helper()

	paris, helsinki, _ := seedLibrary(t, ds)
	parisFaces := commitFaces(t, ds, paris, 2)
	helsinkiFaces := commitFaces(t, ds, helsinki, 1)

	alice, err := ds.CreatePerson("Alice")
	require.NoError(t, err)
	bob, err = ds.CreatePerson("Bob")
	require.NoError(t, err)

	require.NoError(t, ds.AssignFaces(map[uint]uint{
		parisFaces[0]:    alice.ID,
		helsinkiFaces[0]: alice.ID,
		parisFaces[1]:    bob.ID,
	}))
	return alice, bob
}

func TestListPersons(t *testing.T) {
	t.Parallel()

	e, ds, controller := setupTestEnvironment(t)
	alice, bob := seedPersons(t, ds)

	var response struct {
		Persons []PersonItem `json:"persons"`
	}
	getJSON(t, e, controller.ListPersons, "/api/persons", &response)

	require.Len(t, response.Persons, 2)
	first := response.Persons[0]
	assert.Equal(t, alice.ID, first.ID, "most photographed person first")
	assert.Equal(t, "Alice", first.Name)
	assert.Equal(t, int64(2), first.FaceCount)
	assert.Equal(t, int64(2), first.PhotoCount)
	assert.Equal(t, "/api/persons/"+itoa(alice.ID)+"/thumbnail", first.ThumbnailURL)

	assert.Equal(t, bob.ID, response.Persons[1].ID)
	assert.Equal(t, int64(1), response.Persons[1].PhotoCount)
}

func TestGetPerson(t *testing.T) {
	t.Parallel()

	e, ds, controller := setupTestEnvironment(t)
	alice, _ := seedPersons(t, ds)

	c, rec := paramContext(e, http.MethodGet, "/", "id", itoa(alice.ID))
	require.NoError(t, controller.GetPerson(c))
	require.Equal(t, http.StatusOK, rec.Code)

	var item PersonItem
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &item))
	assert.Equal(t, "Alice", item.Name)
	assert.Equal(t, int64(2), item.FaceCount)
	assert.Equal(t, int64(2), item.PhotoCount)

	c, rec = paramContext(e, http.MethodGet, "/", "id", "9999")
	require.NoError(t, controller.GetPerson(c))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	c, rec = paramContext(e, http.MethodGet, "/", "id", "alice")
	require.NoError(t, controller.GetPerson(c))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPersonPhotos(t *testing.T) {
	t.Parallel()

	e, ds, controller := setupTestEnvironment(t)
	alice, bob := seedPersons(t, ds)

	c, rec := paramContext(e, http.MethodGet, "/", "id", itoa(alice.ID))
	require.NoError(t, controller.PersonPhotos(c))
	require.Equal(t, http.StatusOK, rec.Code)

	var page PhotoPage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	assert.Equal(t, int64(2), page.Total)

	c, rec = paramContext(e, http.MethodGet, "/", "id", itoa(bob.ID))
	require.NoError(t, controller.PersonPhotos(c))
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	require.Len(t, page.Items, 1)
	assert.Equal(t, "hash-paris", page.Items[0].FileHash)
}

func TestPersonThumbnail(t *testing.T) {
	t.Parallel()

	e, ds, controller := setupTestEnvironment(t)
	alice, _ := seedPersons(t, ds)

	crop, err := ds.PersonCoverCrop(alice.ID)
	require.NoError(t, err)
	require.NoError(t, controller.files.WriteFile(crop, []byte("cover crop")))

	c, rec := paramContext(e, http.MethodGet, "/", "id", itoa(alice.ID))
	require.NoError(t, controller.PersonThumbnail(c))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "cover crop", rec.Body.String())

	nobody, err := ds.CreatePerson("Nobody")
	require.NoError(t, err)
	c, rec = paramContext(e, http.MethodGet, "/", "id", itoa(nobody.ID))
	require.NoError(t, controller.PersonThumbnail(c))
	assert.Equal(t, http.StatusNotFound, rec.Code, "a person without faces has no thumbnail")
}

func TestRenamePerson(t *testing.T) {
	t.Parallel()

	e, ds, controller := setupTestEnvironment(t)
	alice, _ := seedPersons(t, ds)

	c, rec := jsonContext(e, http.MethodPut, `{"name": "Alicia"}`, "id", itoa(alice.ID))
	require.NoError(t, controller.RenamePerson(c))
	require.Equal(t, http.StatusOK, rec.Code, "body: %s", rec.Body.String())

	var response map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	assert.Equal(t, "Alicia", response["name"])

	stored, err := ds.GetPerson(alice.ID)
	require.NoError(t, err)
	assert.Equal(t, "Alicia", stored.Name)

	c, rec = jsonContext(e, http.MethodPut, `{"name": "   "}`, "id", itoa(alice.ID))
	require.NoError(t, controller.RenamePerson(c))
	assert.Equal(t, http.StatusBadRequest, rec.Code, "blank names are rejected")

	c, rec = jsonContext(e, http.MethodPut, `{"name": "Ghost"}`, "id", "9999")
	require.NoError(t, controller.RenamePerson(c))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMergePersons(t *testing.T) {
	t.Parallel()

	e, ds, controller := setupTestEnvironment(t)
	alice, bob := seedPersons(t, ds)

	body := `{"source_id": ` + itoa(bob.ID) + `, "target_id": ` + itoa(alice.ID) + `}`
	c, rec := jsonContext(e, http.MethodPost, body)
	require.NoError(t, controller.MergePersons(c))
	require.Equal(t, http.StatusOK, rec.Code, "body: %s", rec.Body.String())

	var response map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	assert.Equal(t, "merged", response["status"])
	assert.Equal(t, float64(alice.ID), response["person_id"])

	summaries, err := ds.ListPersons()
	require.NoError(t, err)
	require.Len(t, summaries, 1, "the source person disappears")
	assert.Equal(t, int64(3), summaries[0].FaceCount, "faces move to the target")
	assert.Equal(t, int64(2), summaries[0].PhotoCount, "shared photos count once")

	_, err = ds.GetPerson(bob.ID)
	assert.Error(t, err)
}

func TestMergePersonsValidation(t *testing.T) {
	t.Parallel()

	e, ds, controller := setupTestEnvironment(t)
	alice, _ := seedPersons(t, ds)

	c, rec := jsonContext(e, http.MethodPost, `{"source_id": 0, "target_id": 0}`)
	require.NoError(t, controller.MergePersons(c))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	selfMerge := `{"source_id": ` + itoa(alice.ID) + `, "target_id": ` + itoa(alice.ID) + `}`
	c, rec = jsonContext(e, http.MethodPost, selfMerge)
	require.NoError(t, controller.MergePersons(c))
	assert.Equal(t, http.StatusBadRequest, rec.Code, "merging a person into itself is refused")

	c, rec = jsonContext(e, http.MethodPost, `{"source_id": 9998, "target_id": 9999}`)
	require.NoError(t, controller.MergePersons(c))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
