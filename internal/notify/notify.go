// Package notify sends payment confirmation emails to the customer and the
// merchant.
package notify

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"io"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gopkg.in/gomail.v2"

	"github.com/wichananm65/art-market-backend/internal/config"
)

// Confirmation describes a settled payment. Attachment is optional.
type Confirmation struct {
	OrderID        int64
	TransactionID  string
	Amount         decimal.Decimal
	Currency       string
	Method         string
	CustomerName   string
	CustomerEmail  string
	ReceiptURL     string
	Attachment     []byte
	AttachmentName string
}

type Notifier interface {
	SendPaymentConfirmation(ctx context.Context, c Confirmation) error
}

type sender interface {
	DialAndSend(m ...*gomail.Message) error
}

var (
	clientTemplate = template.Must(template.New("client").Parse(`<h2>Payment Successful</h2>
<p>Hi {{.CustomerName}},</p>
<p>Your payment for <b>Order #{{.OrderID}}</b> has been successfully processed.</p>
<p><b>Amount:</b> {{.Currency}} {{.Amount.StringFixed 2}}</p>
<p><b>Payment Method:</b> {{.Method}}</p>
<p><b>Transaction ID:</b> {{.TransactionID}}</p>
{{if .ReceiptURL}}<p>Receipt URL: <a href="{{.ReceiptURL}}" target="_blank">View PDF</a></p>{{end}}
<p>Attached is your official receipt. Thank you for shopping with us!</p>
`))
	merchantTemplate = template.Must(template.New("merchant").Parse(`<h2>New Payment Received</h2>
<p><b>Order ID:</b> {{.OrderID}}</p>
<p><b>Amount:</b> {{.Currency}} {{.Amount.StringFixed 2}}</p>
<p><b>Method:</b> {{.Method}}</p>
<p><b>Client:</b> {{.CustomerName}} &lt;{{.CustomerEmail}}&gt;</p>
<p><b>Transaction ID:</b> {{.TransactionID}}</p>
`))
)

// Mailer delivers confirmations over SMTP.
type Mailer struct {
	sender   sender
	from     string
	merchant string
}

func NewMailer(cfg config.SMTPConfig, merchantEmail string) *Mailer {
	return &Mailer{
		sender:   gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		from:     cfg.From,
		merchant: merchantEmail,
	}
}

// SendPaymentConfirmation mails the customer (with the receipt attached) and
// the merchant in one SMTP session.
func (m *Mailer) SendPaymentConfirmation(_ context.Context, c Confirmation) error {
	var msgs []*gomail.Message
	if c.CustomerEmail != "" {
		msg, err := m.message(c.CustomerEmail, fmt.Sprintf("Payment Confirmation - Order #%d", c.OrderID), clientTemplate, c)
		if err != nil {
			return err
		}
		if len(c.Attachment) > 0 {
			data := c.Attachment
			msg.Attach(c.AttachmentName, gomail.SetCopyFunc(func(w io.Writer) error {
				_, err := w.Write(data)
				return err
			}))
		}
		msgs = append(msgs, msg)
	}
	if m.merchant != "" {
		msg, err := m.message(m.merchant, fmt.Sprintf("New Payment Received - Order #%d", c.OrderID), merchantTemplate, c)
		if err != nil {
			return err
		}
		msgs = append(msgs, msg)
	}
	if len(msgs) == 0 {
		return nil
	}
	if err := m.sender.DialAndSend(msgs...); err != nil {
		return fmt.Errorf("send confirmation for order %d: %w", c.OrderID, err)
	}
	return nil
}

func (m *Mailer) message(to, subject string, tmpl *template.Template, c Confirmation) (*gomail.Message, error) {
	var body bytes.Buffer
	if err := tmpl.Execute(&body, c); err != nil {
		return nil, fmt.Errorf("render %s email: %w", tmpl.Name(), err)
	}
	msg := gomail.NewMessage()
	msg.SetAddressHeader("From", m.from, "Payments")
	msg.SetHeader("To", to)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/html", body.String())
	return msg, nil
}

// LogNotifier only logs. It is used when SMTP is not configured.
type LogNotifier struct {
	log *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{log: logger.Named("notify")}
}

func (n *LogNotifier) SendPaymentConfirmation(_ context.Context, c Confirmation) error {
	n.log.Info("payment confirmation",
		zap.Int64("order_id", c.OrderID),
		zap.String("transaction_id", c.TransactionID),
		zap.String("to", c.CustomerEmail),
		zap.Int("attachment_bytes", len(c.Attachment)),
	)
	return nil
}
