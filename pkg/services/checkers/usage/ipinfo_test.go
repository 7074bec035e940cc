package usage

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/de-tools/account-monitor/pkg/models/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var countries = Countries{HighRisk: []string{"KP"}, Mine: []string{"GB"}}

func TestIPInfoClient_Lookup(t *testing.T) {
	t.Run("classifies each unique address once", func(t *testing.T) {
		var requested []string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "/batch", r.URL.Path)
			assert.Equal(t, "secret", r.URL.Query().Get("token"))
			require.NoError(t, json.NewDecoder(r.Body).Decode(&requested))

			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{
				"1.1.1.1": {"ip": "1.1.1.1", "country": "GB", "region": "England", "city": "London", "org": "AS1 Home"},
				"2.2.2.2": {"ip": "2.2.2.2", "country": "KP", "region": "Pyongyang", "city": "Pyongyang", "org": "AS2 Bad"},
				"3.3.3.3": {"ip": "3.3.3.3", "country": "FR", "region": "IDF", "city": "Paris", "org": "AS3 Cloud"}
			}`))
		}))
		defer server.Close()

		client, err := NewIPInfoClient(server.URL, "secret", countries)
		require.NoError(t, err)

		got, err := client.Lookup(context.Background(), []string{"3.3.3.3", "1.1.1.1", "2.2.2.2", "1.1.1.1"})
		require.NoError(t, err)

		assert.Equal(t, []string{"1.1.1.1", "2.2.2.2", "3.3.3.3"}, requested)
		assert.Equal(t, domain.RiskLow, got["1.1.1.1"].Risk)
		assert.Equal(t, domain.RiskHigh, got["2.2.2.2"].Risk)
		assert.Equal(t, domain.RiskMedium, got["3.3.3.3"].Risk)
		assert.Equal(t, "GB > England > London (AS1 Home)", got["1.1.1.1"].Description)
		assert.Equal(t, "FR (AS3 Cloud)", got["3.3.3.3"].ShortDescription)
	})

	t.Run("missing auth is an error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"1.1.1.1": {"readme": "https://ipinfo.io/missingauth"}}`))
		}))
		defer server.Close()

		client, err := NewIPInfoClient(server.URL, "expired", countries)
		require.NoError(t, err)

		_, err = client.Lookup(context.Background(), []string{"1.1.1.1"})
		assert.ErrorIs(t, err, ErrIPInfoAuth)
	})

	t.Run("rejected token", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusForbidden)
		}))
		defer server.Close()

		client, err := NewIPInfoClient(server.URL, "bad", countries)
		require.NoError(t, err)

		_, err = client.Lookup(context.Background(), []string{"1.1.1.1"})
		assert.ErrorIs(t, err, ErrIPInfoAuth)
	})

	t.Run("nothing to look up makes no request", func(t *testing.T) {
		client, err := NewIPInfoClient("http://127.0.0.1:1", "secret", countries)
		require.NoError(t, err)

		got, err := client.Lookup(context.Background(), nil)
		require.NoError(t, err)
		assert.Empty(t, got)
	})
}

func TestNewIPInfoClient(t *testing.T) {
	_, err := NewIPInfoClient("", "", countries)
	assert.ErrorIs(t, err, ErrIPInfoAuth)

	_, err = NewIPInfoClient("", "secret", Countries{HighRisk: []string{"GB"}, Mine: []string{"GB"}})
	assert.Error(t, err)
}
