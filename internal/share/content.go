package share

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"wisefido-checkin/internal/models"
)

const (
	appSignature      = "来自\"死了么\"应用"
	shareTimeLayout   = "2006年01月02日 15:04"
	smsTimeLayout     = "15:04"
	emergencyPinLabel = "紧急位置"
)

// AmapURL 高德地图标记链接（经度在前）；name 为空时不带名称
func AmapURL(coord models.Coordinate, name string) string {
	u := fmt.Sprintf("https://uri.amap.com/marker?position=%s,%s", formatDegree(coord.Longitude), formatDegree(coord.Latitude))
	if name != "" {
		u += "&name=" + name
	}
	return u
}

// BaiduURL 百度地图标记链接
func BaiduURL(coord models.Coordinate, title string) string {
	return fmt.Sprintf("http://api.map.baidu.com/marker?location=%s,%s&title=%s&output=html",
		formatDegree(coord.Latitude), formatDegree(coord.Longitude), title)
}

// AppleMapsURL Apple 地图链接
func AppleMapsURL(coord models.Coordinate) string {
	return fmt.Sprintf("http://maps.apple.com/?q=%s,%s", formatDegree(coord.Latitude), formatDegree(coord.Longitude))
}

// Content 普通位置分享文案
func Content(person models.Elderly, coord models.Coordinate, address string, at time.Time) string {
	var b strings.Builder
	b.WriteString("【位置分享】\n\n")
	fmt.Fprintf(&b, "老人：%s\n", person.Name)
	fmt.Fprintf(&b, "时间：%s\n\n", at.Format(shareTimeLayout))
	writeAddressAndCoordinate(&b, coord, address)

	pinName := person.Name + "的位置"
	b.WriteString("查看位置：\n")
	fmt.Fprintf(&b, "• 高德地图：%s\n", AmapURL(coord, pinName))
	fmt.Fprintf(&b, "• 百度地图：%s\n", BaiduURL(coord, pinName))
	fmt.Fprintf(&b, "• Apple地图：%s\n", AppleMapsURL(coord))
	b.WriteString("\n" + appSignature)
	return b.String()
}

// EmergencyContent 紧急位置分享文案（带电话和紧急标记）
func EmergencyContent(person models.Elderly, coord models.Coordinate, address string, at time.Time) string {
	var b strings.Builder
	b.WriteString("⚠️【紧急位置分享】⚠️\n\n")
	fmt.Fprintf(&b, "老人：%s\n", person.Name)
	fmt.Fprintf(&b, "电话：%s\n", person.Phone)
	fmt.Fprintf(&b, "时间：%s\n\n", at.Format(shareTimeLayout))
	writeAddressAndCoordinate(&b, coord, address)

	b.WriteString("查看位置：\n")
	fmt.Fprintf(&b, "• 高德地图：%s\n", AmapURL(coord, emergencyPinLabel))
	fmt.Fprintf(&b, "• Apple地图：%s\n", AppleMapsURL(coord))
	b.WriteString("\n请尽快联系或前往查看！\n" + appSignature)
	return b.String()
}

// SMSContent 短信精简版文案
func SMSContent(person models.Elderly, coord models.Coordinate, address string, at time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s的位置(%s)：", person.Name, at.Format(smsTimeLayout))
	if address != "" {
		b.WriteString("\n" + address)
	}
	b.WriteString("\n查看地图：" + AmapURL(coord, ""))
	return b.String()
}

func writeAddressAndCoordinate(b *strings.Builder, coord models.Coordinate, address string) {
	if address != "" {
		fmt.Fprintf(b, "地址：%s\n\n", address)
	}
	fmt.Fprintf(b, "坐标：%.6f, %.6f\n\n", coord.Latitude, coord.Longitude)
}

func formatDegree(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
