package mail

import (
	"bytes"
	"html/template"
	"time"
)

const RecoverySubject = "Password recovery"

var recoveryTemplate = template.Must(template.New("recovery").Parse(`<!DOCTYPE html>
<html>
  <body>
    <p>Hello {{.Username}},</p>
    <p>Use the following code to reset your password:</p>
    <h2>{{.Code}}</h2>
    <p>The code expires in {{.Minutes}} minutes. If you did not ask for a new password you can ignore this message.</p>
  </body>
</html>
`))

// RecoveryBody renders the HTML body of the recovery code email.
func RecoveryBody(username, code string, validFor time.Duration) (string, error) {
	var buf bytes.Buffer
	err := recoveryTemplate.Execute(&buf, struct {
		Username string
		Code     string
		Minutes  int
	}{
		Username: username,
		Code:     code,
		Minutes:  int(validFor.Minutes()),
	})
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}
