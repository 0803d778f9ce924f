package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/meridian-gis/geoquery/internal/observability"
)

// ArcGISClient queries an ArcGIS Feature Service layer, aggregating pages
// sequentially via result offsets until the service stops reporting a
// transfer-limit overflow.
type ArcGISClient struct {
	serviceURL string
	httpClient *http.Client
	logger     *observability.Logger
}

// ArcGISConfig holds feature service connection settings.
type ArcGISConfig struct {
	ServiceURL     string
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
}

// NewArcGISClient creates a feature service client.
func NewArcGISClient(cfg ArcGISConfig, logger *observability.Logger) (*ArcGISClient, error) {
	if cfg.ServiceURL == "" {
		return nil, &Error{Msg: "service URL is required"}
	}

	timeout := cfg.ConnectTimeout + cfg.ReadTimeout
	if timeout <= 0 {
		timeout = 40 * time.Second
	}

	return &ArcGISClient{
		serviceURL: strings.TrimRight(cfg.ServiceURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.WithComponent("arcgis"),
	}, nil
}

// geoJSONPage is one page of a feature service response in GeoJSON format.
type geoJSONPage struct {
	Features []struct {
		Geometry   json.RawMessage        `json:"geometry"`
		Properties map[string]interface{} `json:"properties"`
	} `json:"features"`
	ExceededTransferLimit bool `json:"exceededTransferLimit"`
	Error                 *struct {
		Code    int      `json:"code"`
		Message string   `json:"message"`
		Details []string `json:"details"`
	} `json:"error"`
}

// Query returns all features matching the filter expression.
func (c *ArcGISClient) Query(ctx context.Context, filter string, opts QueryOptions) (*Result, error) {
	params := url.Values{}
	params.Set("where", filter)
	return c.paginate(ctx, params, opts)
}

// QueryNear returns features within radius of center that also match the
// filter expression.
func (c *ArcGISClient) QueryNear(ctx context.Context, center Point, radius float64, unit DistanceUnit, filter string, opts QueryOptions) (*Result, error) {
	geometry, err := json.Marshal(map[string]interface{}{
		"x":                center.Lon,
		"y":                center.Lat,
		"spatialReference": map[string]int{"wkid": 4326},
	})
	if err != nil {
		return nil, &Error{Msg: "marshal geometry", Err: err}
	}

	params := url.Values{}
	params.Set("where", filter)
	params.Set("geometry", string(geometry))
	params.Set("geometryType", "esriGeometryPoint")
	params.Set("spatialRel", "esriSpatialRelIntersects")
	params.Set("distance", strconv.FormatFloat(unit.Miles(radius), 'f', -1, 64))
	params.Set("units", "esriSRUnit_StatuteMile")

	return c.paginate(ctx, params, opts)
}

func (c *ArcGISClient) paginate(ctx context.Context, base url.Values, opts QueryOptions) (*Result, error) {
	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = 1000
	}

	base.Set("f", "geojson")
	base.Set("outFields", "*")
	base.Set("returnGeometry", "true")
	base.Set("resultRecordCount", strconv.Itoa(pageSize))

	start := time.Now()
	offset := 0
	pageCount := 0
	truncated := false
	var combined []Feature

	for {
		params := url.Values{}
		for k, v := range base {
			params[k] = v
		}
		params.Set("resultOffset", strconv.Itoa(offset))

		page, err := c.fetchPage(ctx, params)
		if err != nil {
			return nil, err
		}
		pageCount++

		for _, f := range page.Features {
			combined = append(combined, Feature{
				Properties: f.Properties,
				Geometry:   f.Geometry,
			})
		}

		c.logger.Debug().
			Int("page", pageCount).
			Int("features_in_page", len(page.Features)).
			Int("total_features", len(combined)).
			Msg("Page retrieved")

		if opts.MaxPages > 0 && pageCount >= opts.MaxPages && page.ExceededTransferLimit {
			truncated = true
			c.logger.Warn().
				Int("max_pages", opts.MaxPages).
				Int("features_retrieved", len(combined)).
				Msg("Maximum page limit reached, results are partial")
			break
		}

		if !page.ExceededTransferLimit || len(page.Features) == 0 {
			break
		}

		offset += pageSize
	}

	c.logger.Info().
		Int("total_features", len(combined)).
		Int("pages", pageCount).
		Dur("duration", time.Since(start)).
		Bool("truncated", truncated).
		Msg("Feature query completed")

	return &Result{
		Features:   combined,
		TotalCount: len(combined),
		Truncated:  truncated,
	}, nil
}

func (c *ArcGISClient) fetchPage(ctx context.Context, params url.Values) (*geoJSONPage, error) {
	reqURL := c.serviceURL + "/query?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, &Error{Msg: "create request", Err: err}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &Error{Msg: "query features", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &Error{Msg: "read response", Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &Error{Msg: fmt.Sprintf("service returned status %d", resp.StatusCode)}
	}

	var page geoJSONPage
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, &Error{Msg: "decode response", Err: err}
	}

	if page.Error != nil {
		msg := page.Error.Message
		if len(page.Error.Details) > 0 {
			msg += " " + strings.Join(page.Error.Details, "; ")
		}
		return nil, &Error{Msg: "service error: " + msg}
	}

	return &page, nil
}

var _ FeatureSource = (*ArcGISClient)(nil)
