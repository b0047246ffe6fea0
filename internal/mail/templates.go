package mail

import (
	"bytes"
	htmltemplate "html/template"
	"strings"
	texttemplate "text/template"
	"time"
)

// ClaimLink is the data for the payment confirmation email carrying the reward link.
type ClaimLink struct {
	To         string
	PurchaseID string
	SKU        string
	Qty        int
	TotalUSD   string
	RewardUSD  string
	ClaimURL   string
	PaymentTx  string
	ExpiresAt  time.Time
}

const explorerTxURL = "https://sepolia.basescan.org/tx/"

var claimText = texttemplate.Must(texttemplate.New("claim.txt").Parse(`Payment Successful!

Your purchase has been completed.

Order Details:
- Purchase ID: {{.PurchaseID}}
- Item: {{.SKU}} x {{.Qty}}
- Total: ${{.TotalUSD}} USD
{{- if .PaymentTx}}
- Payment: {{.ExplorerURL}}{{.PaymentTx}}
{{- end}}

Your reward: {{.RewardUSD}} USDC
Claim it before {{.Expires}}:
{{.ClaimURL}}

Powered by Crypify
`))

var claimHTML = htmltemplate.Must(htmltemplate.New("claim.html").Parse(`<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; line-height: 1.6; color: #333;">
  <div style="max-width: 600px; margin: 0 auto; padding: 20px;">
    <h1>Payment Successful!</h1>
    <p>Your purchase has been completed. A reward of <strong>{{.RewardUSD}} USDC</strong> is waiting for you.</p>
    <h3>Order Details</h3>
    <p><strong>Purchase ID:</strong> {{.PurchaseID}}<br/>
       <strong>Item:</strong> {{.SKU}} &times; {{.Qty}}<br/>
       <strong>Total:</strong> ${{.TotalUSD}} USD</p>
    {{if .PaymentTx}}<p><strong>Payment Transaction:</strong> <a href="{{.ExplorerURL}}{{.PaymentTx}}">{{.PaymentTx}}</a></p>{{end}}
    <p style="text-align: center; margin: 30px 0;">
      <a href="{{.ClaimURL}}" style="padding: 12px 30px; background: #667eea; color: white; text-decoration: none; border-radius: 5px;">Claim your reward</a>
    </p>
    <p style="color: #666; font-size: 14px;">This link expires {{.Expires}}. Anyone holding it can claim the reward, so keep it private.</p>
    <p style="text-align: center; color: #666; font-size: 12px;">Powered by Crypify</p>
  </div>
</body>
</html>
`))

type claimView struct {
	ClaimLink
	Expires     string
	ExplorerURL string
}

// RenderClaimEmail renders the text and HTML bodies of the claim email.
func RenderClaimEmail(data ClaimLink) (Message, error) {
	view := claimView{
		ClaimLink:   data,
		Expires:     data.ExpiresAt.UTC().Format(time.RFC1123),
		ExplorerURL: explorerTxURL,
	}
	var text, html bytes.Buffer
	if err := claimText.Execute(&text, view); err != nil {
		return Message{}, err
	}
	if err := claimHTML.Execute(&html, view); err != nil {
		return Message{}, err
	}
	return Message{
		To:      strings.TrimSpace(data.To),
		Subject: "Payment Confirmed - " + data.PurchaseID,
		Text:    text.String(),
		HTML:    html.String(),
	}, nil
}
