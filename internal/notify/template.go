package notify

import (
	"bytes"
	"html/template"
	"strconv"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/event-bookings/internal/domain"
)

var confirmationTmpl = template.Must(template.New("confirmation").Funcs(template.FuncMap{
	"amount": func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) },
}).Parse(`<p>Hi {{.FirstName}},</p>
<p>Your booking for the event "<strong>{{.PostTitle}}</strong>" has been successfully confirmed!</p>
<p>You have successfully paid <strong>Rs. {{amount .Price}}</strong> only.</p>
<p><strong>Show Details:</strong><br>{{.PostDescription}}</p>
<p>We look forward to your participation and hope you have a great experience!</p>
<p>If you have any questions, feel free to reply to this email.</p>
<p>Best regards,<br><strong>Events CMS Team</strong></p>
`))

func ConfirmationEmail(evt domain.BookingConfirmed) (Message, error) {
	var buf bytes.Buffer
	if err := confirmationTmpl.Execute(&buf, evt); err != nil {
		return Message{}, errors.Wrap(err, "render confirmation email")
	}
	return Message{
		To:      evt.Email,
		ToName:  evt.FirstName + " " + evt.LastName,
		Subject: "Booking Confirmed: " + evt.PostTitle,
		HTML:    buf.String(),
	}, nil
}
