package report

import (
	"bytes"
	"fmt"
	"time"

	"wisefido-checkin/internal/models"
	"wisefido-checkin/internal/service"
	"wisefido-checkin/internal/share"

	"github.com/xuri/excelize/v2"
)

const (
	HistorySheet = "签到记录"
	SummarySheet = "统计"
)

// HistoryHeader 签到记录表头
var HistoryHeader = []string{"日期", "时间", "备注", "纬度", "经度", "距家距离"}

// ExportHistory 导出签到历史 Excel（签到记录 + 统计两个工作表）
// records 按调用方给定顺序写入；时间按 loc 格式化
// 老人有家庭坐标且签到带坐标时写入距家距离
func ExportHistory(person models.Elderly, records []models.CheckInRecord, stats service.Stats, loc *time.Location) ([]byte, error) {
	if loc == nil {
		loc = time.Local
	}

	f := excelize.NewFile()
	// WriteTo 之前文件必须保持打开，出错时逐个 Close

	if _, err := f.NewSheet(HistorySheet); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}
	if _, err := f.NewSheet(SummarySheet); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create sheet: %w", err)
	}
	if err := f.DeleteSheet("Sheet1"); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to delete default sheet: %w", err)
	}
	// 删除默认工作表后索引会变化，重新查询
	index, err := f.GetSheetIndex(HistorySheet)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to get sheet index: %w", err)
	}
	f.SetActiveSheet(index)

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true},
		Fill: excelize.Fill{
			Type:    "pattern",
			Color:   []string{"#E6F3FF"},
			Pattern: 1,
		},
		Alignment: &excelize.Alignment{
			Horizontal: "center",
			Vertical:   "center",
		},
	})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to create header style: %w", err)
	}

	for col, header := range HistoryHeader {
		if err := setCellValue(f, HistorySheet, col+1, 1, header); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to set header cell: %w", err)
		}
	}
	if err := f.SetCellStyle(HistorySheet, "A1", "F1", headerStyle); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to set header style: %w", err)
	}
	if err := f.SetColWidth(HistorySheet, "A", "B", 14); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to set column width: %w", err)
	}
	if err := f.SetColWidth(HistorySheet, "C", "C", 30); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to set column width: %w", err)
	}

	for i, r := range records {
		row := i + 2 // 第 1 行是表头
		at := r.CheckInTime.In(loc)
		values := []interface{}{at.Format(models.DateLayout), at.Format("15:04:05"), r.Note, nil, nil, nil}
		if r.HasLocation() {
			values[3] = *r.Latitude
			values[4] = *r.Longitude
		}
		if meters, ok := share.DistanceFromHome(person, r); ok {
			values[5] = share.FormatDistance(meters)
		}
		for col, value := range values {
			if value == nil || value == "" {
				continue
			}
			if err := setCellValue(f, HistorySheet, col+1, row, value); err != nil {
				f.Close()
				return nil, fmt.Errorf("failed to set cell value at row %d, col %d: %w", row, col+1, err)
			}
		}
	}

	if err := f.SetPanes(HistorySheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to freeze panes: %w", err)
	}

	summary := [][]interface{}{
		{"老人", person.Name},
		{"电话", person.Phone},
		{"签到总次数", stats.Total},
		{"近7天", stats.Last7Days},
		{"近30天", stats.Last30Days},
	}
	for i, pair := range summary {
		for col, value := range pair {
			if err := setCellValue(f, SummarySheet, col+1, i+1, value); err != nil {
				f.Close()
				return nil, fmt.Errorf("failed to write summary: %w", err)
			}
		}
	}
	if err := f.SetColWidth(SummarySheet, "A", "B", 16); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to set column width: %w", err)
	}

	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write to buffer: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("failed to close file: %w", err)
	}
	return buf.Bytes(), nil
}

// HistoryFilename 导出文件名
func HistoryFilename(person models.Elderly, now time.Time) string {
	return fmt.Sprintf("checkin_history_%s_%s.xlsx", person.ID, now.Format("20060102"))
}

func setCellValue(f *excelize.File, sheet string, col, row int, value interface{}) error {
	cell, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return err
	}
	return f.SetCellValue(sheet, cell, value)
}
