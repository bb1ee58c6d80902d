package share

import (
	"fmt"
	"math"
	"time"

	"wisefido-checkin/internal/models"
)

const earthRadiusMeters = 6371000.0

// Distance 两点间球面距离（米，haversine）
func Distance(from, to models.Coordinate) float64 {
	lat1 := from.Latitude * math.Pi / 180
	lat2 := to.Latitude * math.Pi / 180
	dLat := (to.Latitude - from.Latitude) * math.Pi / 180
	dLon := (to.Longitude - from.Longitude) * math.Pi / 180

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	a = math.Min(1, math.Max(0, a))
	return 2 * earthRadiusMeters * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
}

// DistanceFromHome 签到位置到家的距离（米）；老人没有家庭坐标或签到没带坐标时 ok=false
func DistanceFromHome(person models.Elderly, record models.CheckInRecord) (float64, bool) {
	home, ok := person.HomeLocation()
	if !ok {
		return 0, false
	}
	at, ok := record.Coordinate()
	if !ok {
		return 0, false
	}
	return Distance(home, at), true
}

// FormatDistance 1 公里以内显示米，否则显示公里（一位小数）
func FormatDistance(meters float64) string {
	if meters < 1000 {
		return fmt.Sprintf("%.0f米", meters)
	}
	return fmt.Sprintf("%.1f公里", meters/1000)
}

// FormatRelativeTime 相对时间：刚刚 / N分钟前 / N小时前 / N天前
func FormatRelativeTime(t, now time.Time) string {
	seconds := now.Sub(t).Seconds()
	switch {
	case seconds < 60:
		return "刚刚"
	case seconds < 3600:
		return fmt.Sprintf("%d分钟前", int(seconds/60))
	case seconds < 86400:
		return fmt.Sprintf("%d小时前", int(seconds/3600))
	default:
		return fmt.Sprintf("%d天前", int(seconds/86400))
	}
}
