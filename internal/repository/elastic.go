package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"donor-matching/internal/common/errors"
	"donor-matching/internal/models"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
)

// donorPageSize is the number of hits fetched per search_after page.
const donorPageSize = 1000

// donorDocument is the indexed shape of a donor in the search directory.
type donorDocument struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	BloodType string `json:"bloodType"`
	Available bool   `json:"available"`
	City      string `json:"city"`
	Location  *struct {
		Lat float64 `json:"lat"`
		Lon float64 `json:"lon"`
	} `json:"location,omitempty"`
	Email        string     `json:"email,omitempty"`
	Phone        string     `json:"phone,omitempty"`
	LastDonation *time.Time `json:"lastDonation,omitempty"`
}

func (d donorDocument) toDonor() models.Donor {
	donor := models.Donor{
		ID:           d.ID,
		Name:         d.Name,
		BloodType:    models.BloodType(strings.ToUpper(strings.TrimSpace(d.BloodType))),
		Available:    d.Available,
		Location:     models.Location{City: d.City},
		Contact:      models.Contact{Email: d.Email, Phone: d.Phone},
		LastDonation: d.LastDonation,
	}
	if d.Location != nil {
		donor.Location.Coordinates = &models.Coord{Lat: d.Location.Lat, Lon: d.Location.Lon}
	}
	return donor
}

// ElasticDonorSource lists available donors from the search directory
// instead of the registry tables.
type ElasticDonorSource struct {
	client   *elasticsearch.Client
	index    string
	pageSize int
}

func NewElasticDonorSource(client *elasticsearch.Client, index string) *ElasticDonorSource {
	if index == "" {
		index = "donors"
	}
	return &ElasticDonorSource{client: client, index: index, pageSize: donorPageSize}
}

type donorHits struct {
	Hits struct {
		Hits []struct {
			Source donorDocument `json:"_source"`
			Sort   []interface{} `json:"sort"`
		} `json:"hits"`
	} `json:"hits"`
}

// ListAvailableDonors walks the whole result set in id order, one
// search_after page at a time.
func (s *ElasticDonorSource) ListAvailableDonors(ctx context.Context, types ...models.BloodType) ([]models.Donor, error) {
	filters := []interface{}{
		map[string]interface{}{"term": map[string]interface{}{"available": true}},
	}
	if len(types) > 0 {
		names := make([]string, len(types))
		for i, t := range types {
			names[i] = string(t)
		}
		filters = append(filters, map[string]interface{}{
			"terms": map[string]interface{}{"bloodType": names},
		})
	}

	out := []models.Donor{}
	var after []interface{}
	for {
		page, err := s.searchPage(ctx, filters, after)
		if err != nil {
			return nil, err
		}
		for _, h := range page.Hits.Hits {
			out = append(out, h.Source.toDonor())
		}

		n := len(page.Hits.Hits)
		if n < s.pageSize || len(page.Hits.Hits[n-1].Sort) == 0 {
			return out, nil
		}
		after = page.Hits.Hits[n-1].Sort
	}
}

func (s *ElasticDonorSource) searchPage(ctx context.Context, filters []interface{}, after []interface{}) (*donorHits, error) {
	query := map[string]interface{}{
		"query": map[string]interface{}{
			"bool": map[string]interface{}{"filter": filters},
		},
		"sort": []interface{}{map[string]interface{}{"id": "asc"}},
	}
	if len(after) > 0 {
		query["search_after"] = after
	}
	body, err := json.Marshal(query)
	if err != nil {
		return nil, errors.NewDatabaseQueryFailedError("search donors", err)
	}

	size := s.pageSize
	req := esapi.SearchRequest{
		Index: []string{s.index},
		Body:  strings.NewReader(string(body)),
		Size:  &size,
	}
	res, err := req.Do(ctx, s.client)
	if err != nil {
		return nil, errors.NewDatabaseQueryFailedError("search donors", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, errors.NewDatabaseQueryFailedError("search donors", fmt.Errorf("search failed: %s", res.String()))
	}

	var page donorHits
	if err := json.NewDecoder(res.Body).Decode(&page); err != nil {
		return nil, errors.NewDatabaseQueryFailedError("decode donor hits", err)
	}
	return &page, nil
}
