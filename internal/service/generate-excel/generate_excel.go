package generate_excel

import (
	"context"
	"fmt"

	"github.com/xuri/excelize/v2"

	"cutting-erp/internal/storage"
)

const (
	cutsSheet    = "Cuts"
	summarySheet = "Summary"
)

type GenerateExcelStorage interface {
	GetDraft(ctx context.Context, id int64) (*storage.IssueWindowDraft, error)
}

type GenerateExcelService struct {
	storage GenerateExcelStorage
}

func NewGenerateService(storage GenerateExcelStorage) *GenerateExcelService {
	return &GenerateExcelService{storage: storage}
}

// GenerateDraftExcel renders the cut sheet the saw operator works from.
func (g *GenerateExcelService) GenerateDraftExcel(ctx context.Context, draftID int64) ([]byte, error) {
	const op = "service.generate_excel.GenerateDraftExcel"

	d, err := g.storage.GetDraft(ctx, draftID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	b, err := CutSheet(*d)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return b, nil
}

func cellName(col, row int) string {
	name, _ := excelize.CoordinatesToCellName(col, row)
	return name
}

// CutSheet writes one row per cut, bar by bar, plus a summary sheet.
func CutSheet(d storage.IssueWindowDraft) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", cutsSheet); err != nil {
		return nil, err
	}

	headerStyle, err := f.NewStyle(&excelize.Style{
		Font:   &excelize.Font{Bold: true},
		Fill:   excelize.Fill{Type: "pattern", Color: []string{"E0E0E0"}, Pattern: 1},
		Border: []excelize.Border{{Type: "bottom", Color: "000000", Style: 2}},
	})
	if err != nil {
		return nil, err
	}

	headers := []string{
		"Bar", "Piece", "Bar length, mm", "Req no", "Order no", "Part",
		"Requisition", "Item", "Cut", "Cut length, mm", "Remaining, mm", "Offcut",
	}
	for i, h := range headers {
		f.SetCellValue(cutsSheet, cellName(i+1, 1), h)
	}
	f.SetCellStyle(cutsSheet, "A1", cellName(len(headers), 1), headerStyle)

	var totalLength, totalCut, stockReturn, scrap int

	row := 2
	for i, bar := range d.Bars {
		bar.Recalculate()
		totalLength += bar.BarLengthMM
		totalCut += bar.TotalCutMM

		offcut := "stock"
		if bar.IsScrap {
			offcut = "scrap"
			scrap += bar.RemainingMM
		} else {
			stockReturn += bar.RemainingMM
		}

		for _, c := range bar.Cuts {
			values := []any{
				i + 1, bar.PieceID, bar.BarLengthMM, c.Labels.ReqNo, c.Labels.OrderNo, c.Labels.PartName,
				c.RequisitionID, c.RequisitionItemID, c.CutIndex + 1, c.CutLengthMM, bar.RemainingMM, offcut,
			}
			for col, v := range values {
				f.SetCellValue(cutsSheet, cellName(col+1, row), v)
			}
			row++
		}
	}

	f.SetPanes(cutsSheet, &excelize.Panes{
		Freeze:      true,
		YSplit:      1,
		TopLeftCell: "A2",
	})
	f.SetColWidth(cutsSheet, "A", "L", 14)

	if _, err := f.NewSheet(summarySheet); err != nil {
		return nil, err
	}

	summary := [][2]any{
		{"Draft", d.ID},
		{"Status", string(d.Status)},
		{"Requisitions", storage.RequisitionKey(d.RequisitionIDs)},
		{"Bars", len(d.Bars)},
		{"Bar length used, mm", totalLength},
		{"Cut length, mm", totalCut},
		{"Back to stock, mm", stockReturn},
		{"Scrap, mm", scrap},
	}
	for i, kv := range summary {
		f.SetCellValue(summarySheet, cellName(1, i+1), kv[0])
		f.SetCellValue(summarySheet, cellName(2, i+1), kv[1])
	}
	f.SetCellStyle(summarySheet, "A1", cellName(1, len(summary)), headerStyle)
	f.SetColWidth(summarySheet, "A", "B", 22)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
