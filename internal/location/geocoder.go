package location

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"wisefido-checkin/internal/models"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// Geocoder 地理编码
type Geocoder interface {
	// Reverse 坐标 -> 地址
	Reverse(ctx context.Context, coord models.Coordinate) (string, error)
	// Forward 地址 -> 坐标
	Forward(ctx context.Context, address string) (models.Coordinate, error)
}

// nominatimAddress Nominatim 返回的地址分量
type nominatimAddress struct {
	Country     string `json:"country"`
	State       string `json:"state"`
	Province    string `json:"province"`
	City        string `json:"city"`
	Town        string `json:"town"`
	Village     string `json:"village"`
	Suburb      string `json:"suburb"`
	District    string `json:"city_district"`
	Road        string `json:"road"`
	HouseNumber string `json:"house_number"`
}

type nominatimReverse struct {
	Error   string           `json:"error"`
	Address nominatimAddress `json:"address"`
}

type nominatimPlace struct {
	Lat string `json:"lat"`
	Lon string `json:"lon"`
}

// HTTPGeocoder Nominatim 兼容的地理编码客户端
type HTTPGeocoder struct {
	httpClient *resty.Client
	language   string
	logger     *zap.Logger
}

// NewHTTPGeocoder 创建地理编码客户端
func NewHTTPGeocoder(baseURL, userAgent string, timeout time.Duration, logger *zap.Logger) *HTTPGeocoder {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", userAgent)

	return &HTTPGeocoder{
		httpClient: client,
		language:   "zh-CN",
		logger:     logger,
	}
}

// Reverse 逆地理编码，地址分量按 国家/省/市/区/街道/门牌 直接拼接
func (g *HTTPGeocoder) Reverse(ctx context.Context, coord models.Coordinate) (string, error) {
	var result nominatimReverse
	resp, err := g.httpClient.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"format":          "jsonv2",
			"lat":             strconv.FormatFloat(coord.Latitude, 'f', 6, 64),
			"lon":             strconv.FormatFloat(coord.Longitude, 'f', 6, 64),
			"accept-language": g.language,
		}).
		SetResult(&result).
		Get("/reverse")
	if err != nil {
		g.logger.Warn("Reverse geocode request failed", zap.Error(err))
		return "", Failed(fmt.Errorf("reverse geocode: %w", err))
	}
	if resp.IsError() {
		g.logger.Warn("Reverse geocode returned error status", zap.Int("status_code", resp.StatusCode()))
		return "", Failed(fmt.Errorf("reverse geocode: status %d", resp.StatusCode()))
	}
	if result.Error != "" {
		return "", ErrUnavailable
	}

	address := joinAddress(result.Address)
	if address == "" {
		return "", ErrUnavailable
	}
	return address, nil
}

// Forward 地理编码，取第一个结果
func (g *HTTPGeocoder) Forward(ctx context.Context, address string) (models.Coordinate, error) {
	var places []nominatimPlace
	resp, err := g.httpClient.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"format":          "jsonv2",
			"q":               address,
			"limit":           "1",
			"accept-language": g.language,
		}).
		SetResult(&places).
		Get("/search")
	if err != nil {
		g.logger.Warn("Forward geocode request failed", zap.Error(err))
		return models.Coordinate{}, Failed(fmt.Errorf("forward geocode: %w", err))
	}
	if resp.IsError() {
		g.logger.Warn("Forward geocode returned error status", zap.Int("status_code", resp.StatusCode()))
		return models.Coordinate{}, Failed(fmt.Errorf("forward geocode: status %d", resp.StatusCode()))
	}
	if len(places) == 0 {
		return models.Coordinate{}, ErrUnavailable
	}

	lat, err := strconv.ParseFloat(places[0].Lat, 64)
	if err != nil {
		return models.Coordinate{}, Failed(fmt.Errorf("forward geocode: bad latitude %q", places[0].Lat))
	}
	lon, err := strconv.ParseFloat(places[0].Lon, 64)
	if err != nil {
		return models.Coordinate{}, Failed(fmt.Errorf("forward geocode: bad longitude %q", places[0].Lon))
	}
	return models.Coordinate{Latitude: lat, Longitude: lon}, nil
}

// joinAddress 拼接地址分量（无分隔符）
func joinAddress(a nominatimAddress) string {
	return firstNonEmpty(a.Country) +
		firstNonEmpty(a.State, a.Province) +
		firstNonEmpty(a.City, a.Town, a.Village) +
		firstNonEmpty(a.Suburb, a.District) +
		firstNonEmpty(a.Road) +
		firstNonEmpty(a.HouseNumber)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
