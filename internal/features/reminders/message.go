package reminders

import (
	"bytes"
	"fmt"
	"html/template"

	"onair.fm/tipjar/internal/common"
	"onair.fm/tipjar/internal/notify"
)

var reminderTemplate = template.Must(template.New("reminder").Parse(`<p>Hi{{if .Name}} {{.Name}}{{end}},</p>
<p>Listeners have tipped you: {{.Count}} worth {{.Amount}} are waiting for you.
The oldest was sent {{.Days}} days ago.</p>
<p>To receive them, finish setting up your payout account:
<a href="{{.URL}}">{{.URL}}</a></p>
{{if gt .DaysLeft 0}}<p>Tips not claimed within {{.DaysLeft}} more days go to the community support pool.</p>{{end}}`))

func (s *Scheduler) compose(g *waiting, name string, days int) (notify.Email, error) {
	daysLeft := 0
	if s.claimWindow > 0 {
		daysLeft = int(s.claimWindow/common.Day) - days
	}
	var buf bytes.Buffer
	err := reminderTemplate.Execute(&buf, map[string]any{
		"Name":     name,
		"Count":    common.FormatCount(g.count, "tip", "tips"),
		"Amount":   common.FormatMoney(g.amount, g.currency),
		"Days":     days,
		"URL":      s.onboardingURL,
		"DaysLeft": daysLeft,
	})
	if err != nil {
		return notify.Email{}, err
	}
	return notify.Email{
		To:      g.email,
		Name:    name,
		Subject: fmt.Sprintf("You have %s waiting", common.FormatCount(g.count, "tip", "tips")),
		HTML:    buf.String(),
	}, nil
}
