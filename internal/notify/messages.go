package notify

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
)

const (
	KindBookingConfirmed = "booking_confirmed"
	KindBookingFailed    = "booking_failed"
	KindBookingCancelled = "booking_cancelled"
	KindUserVerified     = "user_verified"
)

// MessageData feeds the message templates.
type MessageData struct {
	UserName        string
	BookingIDs      []string
	PaymentIntentID string
	AmountCents     int64
	Currency        string
	FailureMessage  string
}

type messageTemplate struct {
	subject string
	body    *template.Template
}

var funcs = template.FuncMap{
	"money": func(cents int64, currency string) string {
		return fmt.Sprintf("%d.%02d %s", cents/100, cents%100, strings.ToUpper(currency))
	},
	"join": strings.Join,
}

var templates = map[string]messageTemplate{
	KindBookingConfirmed: {
		subject: "Your room booking is confirmed",
		body: template.Must(template.New(KindBookingConfirmed).Funcs(funcs).Parse(
			`Hello{{if .UserName}} {{.UserName}}{{end}},

Your payment{{if .AmountCents}} of {{money .AmountCents .Currency}}{{end}} was received and your booking is confirmed.
Bookings: {{join .BookingIDs ", "}}
`)),
	},
	KindBookingFailed: {
		subject: "Your room booking could not be completed",
		body: template.Must(template.New(KindBookingFailed).Funcs(funcs).Parse(
			`Hello{{if .UserName}} {{.UserName}}{{end}},

The payment for bookings {{join .BookingIDs ", "}} did not go through{{if .FailureMessage}}: {{.FailureMessage}}{{end}}.
The selected slots have been released. You can start a new booking at any time.
`)),
	},
	KindBookingCancelled: {
		subject: "Your room booking was cancelled",
		body: template.Must(template.New(KindBookingCancelled).Funcs(funcs).Parse(
			`Hello{{if .UserName}} {{.UserName}}{{end}},

Bookings {{join .BookingIDs ", "}} were cancelled by the clinic administration.
`)),
	},
	KindUserVerified: {
		subject: "Your account is verified",
		body: template.Must(template.New(KindUserVerified).Funcs(funcs).Parse(
			`Hello{{if .UserName}} {{.UserName}}{{end}},

Your security deposit was received. Future bookings will not include a deposit.
`)),
	},
}

// Render returns the subject and plain-text body for a notification kind.
func Render(kind string, data MessageData) (string, string, error) {
	tpl, ok := templates[kind]
	if !ok {
		return "", "", fmt.Errorf("notify: unknown message kind %q", kind)
	}
	var buf bytes.Buffer
	if err := tpl.body.Execute(&buf, data); err != nil {
		return "", "", fmt.Errorf("notify: render %s: %w", kind, err)
	}
	return tpl.subject, buf.String(), nil
}
