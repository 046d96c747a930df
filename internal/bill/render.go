package bill

import (
	"github.com/johnfercher/maroto/v2"
	"github.com/johnfercher/maroto/v2/pkg/components/col"
	"github.com/johnfercher/maroto/v2/pkg/components/text"
	"github.com/johnfercher/maroto/v2/pkg/config"
	"github.com/johnfercher/maroto/v2/pkg/consts/align"
	"github.com/johnfercher/maroto/v2/pkg/consts/fontstyle"
	"github.com/johnfercher/maroto/v2/pkg/props"
)

// Document is the printable content of a bill.
type Document struct {
	StoreName string
	Reference string
	IssueDate string

	CustomerName string
	Country      string

	OfferingName    string
	OfferingVersion string
	Organization    string

	Concept  string
	Lines    []DocumentLine
	Total    string
	Currency string
}

type DocumentLine struct {
	Concept string
	Amount  string
}

func renderPDF(doc Document) ([]byte, error) {
	cfg := config.NewBuilder().
		WithPageNumber(props.PageNumber{
			Pattern: "Page {current} of {total}",
			Place:   props.RightBottom,
		}).
		Build()

	m := maroto.New(cfg)

	m.AddRow(12,
		text.NewCol(8, doc.StoreName, props.Text{
			Size:  18,
			Style: fontstyle.Bold,
			Align: align.Left,
		}),
		text.NewCol(4, "Bill", props.Text{
			Size:  18,
			Style: fontstyle.Bold,
			Align: align.Right,
		}),
	)

	m.AddRow(20,
		col.New(6).Add(
			text.New("Reference: "+doc.Reference, props.Text{Top: 0}),
			text.New("Date of issue: "+doc.IssueDate, props.Text{Top: 4}),
			text.New("Concept: "+doc.Concept, props.Text{Top: 8}),
		),
		col.New(6).Add(
			text.New("Bill to", props.Text{Style: fontstyle.Bold, Align: align.Right}),
			text.New(doc.CustomerName, props.Text{Top: 4, Align: align.Right}),
			text.New(doc.Country, props.Text{Top: 8, Align: align.Right}),
		),
	)

	m.AddRow(14,
		col.New(12).Add(
			text.New("Offering", props.Text{Style: fontstyle.Bold}),
			text.New(doc.OfferingName+" "+doc.OfferingVersion+" ("+doc.Organization+")", props.Text{Top: 5}),
		),
	)

	m.AddRow(10,
		text.NewCol(9, "Description", props.Text{Style: fontstyle.Bold, Size: 9}),
		text.NewCol(3, "Amount", props.Text{Style: fontstyle.Bold, Size: 9, Align: align.Right}),
	)
	for _, line := range doc.Lines {
		m.AddRow(8,
			text.NewCol(9, line.Concept, props.Text{Size: 9}),
			text.NewCol(3, line.Amount+" "+doc.Currency, props.Text{Size: 9, Align: align.Right}),
		)
	}

	m.AddRow(12,
		col.New(6),
		text.NewCol(3, "Total", props.Text{Style: fontstyle.Bold, Size: 10, Top: 3}),
		text.NewCol(3, doc.Total+" "+doc.Currency, props.Text{Style: fontstyle.Bold, Size: 10, Top: 3, Align: align.Right}),
	)

	pdf, err := m.Generate()
	if err != nil {
		return nil, err
	}
	return pdf.GetBytes(), nil
}
