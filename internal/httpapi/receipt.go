package httpapi

import (
	"bytes"
	"html/template"

	"github.com/shopspring/decimal"

	"caixapos/backend/internal/domain"
)

var hundred = decimal.NewFromInt(100)

// receiptHTMLTmpl renders a till receipt. html/template escapes product names
// and notes.
var receiptHTMLTmpl = template.Must(template.New("receipt").Funcs(template.FuncMap{
	"money": func(d decimal.Decimal) string { return d.StringFixed(2) },
	"qty":   func(d decimal.Decimal) string { return d.String() },
	"stamp": func(s domain.Sale) string { return s.CreatedAt.UTC().Format("2006-01-02 15:04") },
}).Parse(`<!doctype html>
<html>
<head>
  <meta charset="utf-8" />
  <title>{{.Sale.InvoiceNumber}}</title>
  <style>
    body { font-family: monospace; width: 300px; margin: 12px; }
    table { width: 100%; border-collapse: collapse; }
    td { padding: 2px 0; font-size: 12px; }
    .r { text-align: right; }
    .void { color: #b00; font-weight: bold; }
  </style>
</head>
<body>
  <h3>{{.StoreName}}</h3>
  <p>{{.Sale.InvoiceNumber}}<br />{{stamp .Sale}}</p>
  {{if eq .Sale.Status "cancelled"}}<p class="void">CANCELLED</p>{{end}}
  <table>
    <tbody>{{range .Items}}
      <tr><td colspan="2">{{.ProductName}}</td></tr>
      <tr><td>{{qty .Quantity}} x {{money .UnitPrice}}{{if .DiscountAmount.IsPositive}} -{{money .DiscountAmount}}{{end}}</td><td class="r">{{money .Total}}</td></tr>{{end}}
    </tbody>
  </table>
  <hr />
  <table>
    <tr><td>Subtotal</td><td class="r">{{money .Sale.Subtotal}}</td></tr>
    {{if .Sale.DiscountAmount.IsPositive}}<tr><td>Discount</td><td class="r">-{{money .Sale.DiscountAmount}}</td></tr>{{end}}
    <tr><td>IVA</td><td class="r">{{money .Sale.TaxAmount}}</td></tr>
    <tr><td><b>Total</b></td><td class="r"><b>{{money .Sale.Total}}</b></td></tr>
    <tr><td>Payment</td><td class="r">{{.Sale.PaymentMethod}}</td></tr>
    {{with .Sale.CashReceived}}<tr><td>Cash</td><td class="r">{{money .}}</td></tr>{{end}}
    {{with .Sale.ChangeGiven}}<tr><td>Change</td><td class="r">{{money .}}</td></tr>{{end}}
  </table>
  {{if .Sale.Notes}}<p>{{.Sale.Notes}}</p>{{end}}
</body>
</html>
`))

func receiptToPrintableHTML(receipt domain.Receipt) string {
	var buf bytes.Buffer
	if err := receiptHTMLTmpl.Execute(&buf, receipt); err != nil {
		return "<!doctype html><html><body><p>Receipt rendering error.</p></body></html>"
	}
	return buf.String()
}
