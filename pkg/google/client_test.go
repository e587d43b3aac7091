package google

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearchText_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/places:searchText", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("X-Goog-Api-Key"))
		mask := r.Header.Get("X-Goog-FieldMask")
		assert.Contains(t, mask, "places.id")
		assert.Contains(t, mask, "places.websiteUri")
		assert.Contains(t, mask, "places.regularOpeningHours")
		assert.Contains(t, mask, "nextPageToken")

		var body TextSearchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "plomeros in Bayamón, PR", body.TextQuery)
		assert.Equal(t, "es", body.LanguageCode)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"places": [{
				"id": "ChIJ-plomeria",
				"displayName": {"text": "Plomería Rivera", "languageCode": "es"},
				"formattedAddress": "Carr. 2 Km 11.5, Bayamón, 00959, Puerto Rico",
				"addressComponents": [
					{"longText": "Bayamón", "shortText": "Bayamón", "types": ["locality", "political"]},
					{"longText": "Puerto Rico", "shortText": "PR", "types": ["administrative_area_level_1", "political"]},
					{"longText": "00959", "shortText": "00959", "types": ["postal_code"]}
				],
				"nationalPhoneNumber": "(787) 555-0100",
				"location": {"latitude": 18.39, "longitude": -66.15},
				"types": ["plumber", "point_of_interest"],
				"regularOpeningHours": {"weekdayDescriptions": ["Monday: 8:00 AM – 5:00 PM"]},
				"rating": 4.6,
				"userRatingCount": 38,
				"businessStatus": "OPERATIONAL"
			}],
			"nextPageToken": "page-2"
		}`))
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	resp, err := client.SearchText(context.Background(), TextSearchRequest{
		TextQuery:    "plomeros in Bayamón, PR",
		LanguageCode: "es",
	})

	require.NoError(t, err)
	require.Len(t, resp.Places, 1)
	p := resp.Places[0]
	assert.Equal(t, "ChIJ-plomeria", p.ID)
	assert.Equal(t, "Plomería Rivera", p.DisplayName.Text)
	assert.Empty(t, p.WebsiteURI)
	assert.Equal(t, "Bayamón", p.Component("locality"))
	assert.Equal(t, "PR", p.Component("administrative_area_level_1"))
	assert.Equal(t, "00959", p.Component("postal_code"))
	assert.Empty(t, p.Component("route"))
	require.NotNil(t, p.Location)
	assert.InDelta(t, 18.39, p.Location.Latitude, 0.001)
	require.NotNil(t, p.RegularOpeningHours)
	assert.Len(t, p.RegularOpeningHours.WeekdayDescriptions, 1)
	assert.Equal(t, 38, p.UserRatingCount)
	assert.Equal(t, "page-2", resp.NextPageToken)
}

func TestSearchText_Pagination(t *testing.T) {
	callCount := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		callCount++
		var body TextSearchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		w.Header().Set("Content-Type", "application/json")
		if body.PageToken == "" {
			_ = json.NewEncoder(w).Encode(TextSearchResponse{
				Places:        []Place{{ID: "place-1", DisplayName: LocalizedText{Text: "First"}}},
				NextPageToken: "page-2-token",
			})
		} else {
			assert.Equal(t, "page-2-token", body.PageToken)
			_ = json.NewEncoder(w).Encode(TextSearchResponse{
				Places: []Place{{ID: "place-2", DisplayName: LocalizedText{Text: "Second"}}},
			})
		}
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL+"/"))

	resp, err := client.SearchText(context.Background(), TextSearchRequest{TextQuery: "test"})
	require.NoError(t, err)
	require.Len(t, resp.Places, 1)
	assert.Equal(t, "page-2-token", resp.NextPageToken)

	resp, err = client.SearchText(context.Background(), TextSearchRequest{TextQuery: "test", PageToken: resp.NextPageToken})
	require.NoError(t, err)
	require.Len(t, resp.Places, 1)
	assert.Equal(t, "place-2", resp.Places[0].ID)
	assert.Empty(t, resp.NextPageToken)
	assert.Equal(t, 2, callCount)
}

func TestSearchText_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error": "rate limit exceeded"}`))
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	resp, err := client.SearchText(context.Background(), TextSearchRequest{TextQuery: "test"})

	require.Error(t, err)
	assert.Nil(t, resp)
	assert.Contains(t, err.Error(), "429")

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusTooManyRequests, apiErr.HTTPStatus())
}

func TestSearchText_BadJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{not json`))
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	_, err := client.SearchText(context.Background(), TextSearchRequest{TextQuery: "test"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unmarshal")
}

func TestSearchText_ContextCanceled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := NewClient("test-key", WithBaseURL(srv.URL), WithHTTPClient(srv.Client()))
	resp, err := client.SearchText(ctx, TextSearchRequest{TextQuery: "test"})

	assert.Error(t, err)
	assert.Nil(t, resp)
}
