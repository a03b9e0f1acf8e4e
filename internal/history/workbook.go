package history

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/NAREN-BHARGAV/CodeBlueHalo/internal/models"

	"github.com/xuri/excelize/v2"
)

// 表头
const (
	HeaderOccupantID      = "Occupant ID"
	HeaderDay             = "Day"
	HeaderTotalActive     = "Total Active Minutes"
	HeaderLongestInactive = "Longest Inactive Minutes"
	HeaderExitCount       = "Exit Count"
	HeaderAvgTemperature  = "Avg Temperature"
	HeaderDriftScore      = "Drift Score"
	HeaderDriftAlert      = "Drift Alert"
)

// ImportHeader 导入表头（每日行为向量）
var ImportHeader = []string{
	HeaderOccupantID,
	HeaderDay,
	HeaderTotalActive,
	HeaderLongestInactive,
	HeaderExitCount,
	HeaderAvgTemperature,
}

// ReportHeader 漂移报告表头
var ReportHeader = append(append([]string{}, ImportHeader...), HeaderDriftScore, HeaderDriftAlert)

const (
	historySheet = "Daily History"
	reportSheet  = "Drift Report"
	dayLayout    = "2006-01-02"
)

var dayLayouts = []string{dayLayout, "2006/01/02", "2006-01-02 15:04:05", "01-02-06", "1/2/2006"}

// RowError 导入失败的行
type RowError struct {
	Row    int    `json:"row"` // 工作表行号（从 1 开始，含表头）
	Reason string `json:"reason"`
}

// ScoredDay 带漂移分数的每日向量
type ScoredDay struct {
	Vector models.DailyVector
	Score  float64
	Alert  bool // 截至当日连续 3 天超过阈值
}

// ImportDailyVectors 读取工作簿第一个工作表中的每日行为向量
// 表头按名称匹配，列顺序不限；无效行记录到 RowError 并跳过
func ImportDailyVectors(r io.Reader) ([]models.DailyVector, []RowError, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse Excel file: %w", err)
	}
	defer f.Close()

	sheetName := f.GetSheetName(0)
	if sheetName == "" {
		return nil, nil, fmt.Errorf("excel file has no sheets")
	}

	rows, err := f.GetRows(sheetName)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read rows: %w", err)
	}
	if len(rows) < 2 {
		return nil, nil, nil
	}

	headerMap := make(map[string]int)
	for i, h := range rows[0] {
		headerMap[strings.TrimSpace(h)] = i
	}
	for _, h := range ImportHeader {
		if _, ok := headerMap[h]; !ok {
			return nil, nil, fmt.Errorf("missing column %q", h)
		}
	}

	var vectors []models.DailyVector
	var rowErrors []RowError
	for rowIdx := 1; rowIdx < len(rows); rowIdx++ {
		row := rows[rowIdx]
		cell := func(header string) string {
			idx := headerMap[header]
			if idx < len(row) {
				return strings.TrimSpace(row[idx])
			}
			return ""
		}

		// 跳过空行
		empty := true
		for _, h := range ImportHeader {
			if cell(h) != "" {
				empty = false
				break
			}
		}
		if empty {
			continue
		}

		v, err := parseRow(cell)
		if err != nil {
			rowErrors = append(rowErrors, RowError{Row: rowIdx + 1, Reason: err.Error()})
			continue
		}
		vectors = append(vectors, v)
	}
	return vectors, rowErrors, nil
}

func parseRow(cell func(string) string) (models.DailyVector, error) {
	occupantID := cell(HeaderOccupantID)
	if occupantID == "" {
		return models.DailyVector{}, fmt.Errorf("occupant id is empty")
	}
	day, err := parseDay(cell(HeaderDay))
	if err != nil {
		return models.DailyVector{}, err
	}

	values := make([]float64, 0, models.DailyFeatureCount)
	for _, h := range ImportHeader[2:] {
		raw := cell(h)
		value, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return models.DailyVector{}, fmt.Errorf("invalid %s %q", h, raw)
		}
		values = append(values, value)
	}

	v, err := models.DailyVectorFromSlice(values)
	if err != nil {
		return models.DailyVector{}, err
	}
	v.OccupantID = occupantID
	v.Day = day
	return v, nil
}

func parseDay(raw string) (time.Time, error) {
	for _, layout := range dayLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, nil
		}
	}
	// 日期序列号
	if serial, err := strconv.ParseFloat(raw, 64); err == nil {
		t, err := excelize.ExcelDateToTime(serial, false)
		if err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid day %q", raw)
}

// GroupByOccupant 按住户分组，组内按日期升序
func GroupByOccupant(vectors []models.DailyVector) map[string][]models.DailyVector {
	groups := make(map[string][]models.DailyVector)
	for _, v := range vectors {
		groups[v.OccupantID] = append(groups[v.OccupantID], v)
	}
	for id := range groups {
		g := groups[id]
		sort.SliceStable(g, func(i, j int) bool { return g[i].Day.Before(g[j].Day) })
	}
	return groups
}

// GenerateImportTemplate 生成只有表头的导入模板
func GenerateImportTemplate(w io.Writer) error {
	return writeWorkbook(w, historySheet, ImportHeader, nil)
}

// ExportDailyVectors 导出每日行为向量（可再次导入）
func ExportDailyVectors(w io.Writer, vectors []models.DailyVector) error {
	rows := make([][]interface{}, 0, len(vectors))
	for _, v := range vectors {
		rows = append(rows, vectorRow(v))
	}
	return writeWorkbook(w, historySheet, ImportHeader, rows)
}

// ExportDriftReport 导出带漂移分数的报告
func ExportDriftReport(w io.Writer, days []ScoredDay) error {
	rows := make([][]interface{}, 0, len(days))
	for _, d := range days {
		alert := "No"
		if d.Alert {
			alert = "Yes"
		}
		rows = append(rows, append(vectorRow(d.Vector), d.Score, alert))
	}
	return writeWorkbook(w, reportSheet, ReportHeader, rows)
}

func vectorRow(v models.DailyVector) []interface{} {
	return []interface{}{
		v.OccupantID,
		v.Day.Format(dayLayout),
		v.TotalActiveMinutes,
		v.LongestInactiveMinutes,
		v.ExitCount,
		v.AvgTemperature,
	}
}

func writeWorkbook(w io.Writer, sheetName string, headers []string, rows [][]interface{}) error {
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(sheetName)
	if err != nil {
		return fmt.Errorf("failed to create sheet: %w", err)
	}
	// 删除默认的 Sheet1
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return fmt.Errorf("failed to delete default sheet: %w", err)
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
		return fmt.Errorf("failed to create header style: %w", err)
	}

	if err := f.SetSheetRow(sheetName, "A1", &headers); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	lastCol, err := excelize.ColumnNumberToName(len(headers))
	if err != nil {
		return fmt.Errorf("failed to convert column number: %w", err)
	}
	if err := f.SetCellStyle(sheetName, "A1", lastCol+"1", headerStyle); err != nil {
		return fmt.Errorf("failed to set header style: %w", err)
	}
	if err := f.SetColWidth(sheetName, "A", lastCol, 22); err != nil {
		return fmt.Errorf("failed to set column width: %w", err)
	}

	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return fmt.Errorf("failed to convert coordinates: %w", err)
		}
		row := row
		if err := f.SetSheetRow(sheetName, cell, &row); err != nil {
			return fmt.Errorf("failed to write row %d: %w", i+2, err)
		}
	}

	// 冻结表头
	if err := f.SetPanes(sheetName, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
		ActivePane:  "bottomLeft",
	}); err != nil {
		return fmt.Errorf("failed to freeze panes: %w", err)
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}
