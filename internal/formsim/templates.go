package formsim

import "html/template"

var pages = template.Must(template.New("layout").Parse(`<!DOCTYPE html>
<html lang="en" class="govuk-template">
<head>
  <meta charset="utf-8">
  <title>{{.Title}} - GOV.UK Forms</title>
</head>
<body class="govuk-template__body">
  <div class="govuk-cookie-banner">
    <form action="/cookies" method="post">
      <input type="hidden" name="authenticity_token" value="{{.BannerToken}}">
      <button type="submit" class="govuk-button" name="cookies[analytics]" value="yes">Accept analytics cookies</button>
    </form>
  </div>
  <header class="govuk-header"><a href="/" class="govuk-header__link">GOV.UK</a></header>
  <div class="govuk-width-container">
    <main class="govuk-main-wrapper" id="main-content" role="main">
      {{- if eq .Page "question"}}{{template "question" .}}{{end}}
      {{- if eq .Page "check"}}{{template "check" .}}{{end}}
      {{- if eq .Page "submitted"}}{{template "submitted" .}}{{end}}
      {{- if eq .Page "error"}}{{template "error" .}}{{end}}
    </main>
  </div>
  <footer class="govuk-footer">
    <form action="/feedback" method="post">
      <input class="govuk-input" type="text" id="footer-feedback" placeholder="Feedback">
    </form>
  </footer>
</body>
</html>
{{define "question"}}
      <form action="{{.Action}}" method="post" novalidate>
        {{- if .Token}}
        <input type="hidden" name="authenticity_token" value="{{.Token}}" autocomplete="off">
        {{- end}}
        <h1 class="govuk-heading-l">{{.Title}}</h1>
        {{- $class := .Class}}
        {{- range .Fields}}
        <div class="govuk-form-group">
          <label class="govuk-label" for="{{.Name}}">{{.Label}}</label>
          {{- if eq $class "govuk-select"}}
          <select class="govuk-select" id="{{.Name}}" name="{{.Name}}">
            <option value="Red">Red</option>
            <option value="Blue">Blue</option>
          </select>
          {{- else if eq $class "govuk-radios__input"}}
          <div class="govuk-radios">
            <div class="govuk-radios__item"><input class="govuk-radios__input" type="radio" name="{{.Name}}" value="Red"></div>
            <div class="govuk-radios__item"><input class="govuk-radios__input" type="radio" name="{{.Name}}" value="Blue"></div>
          </div>
          {{- else if eq $class "govuk-checkboxes__input"}}
          <div class="govuk-checkboxes">
            <div class="govuk-checkboxes__item"><input class="govuk-checkboxes__input" type="checkbox" name="{{.Name}}" value="Red"></div>
            <div class="govuk-checkboxes__item"><input class="govuk-checkboxes__input" type="checkbox" name="{{.Name}}" value="Blue"></div>
          </div>
          {{- else if eq $class "govuk-textarea"}}
          <textarea class="govuk-textarea" id="{{.Name}}" name="{{.Name}}" rows="5"></textarea>
          {{- else}}
          <input class="govuk-input" id="{{.Name}}" name="{{.Name}}" type="text">
          {{- end}}
        </div>
        {{- end}}
        <button type="submit" class="govuk-button">Continue</button>
      </form>
{{end}}
{{define "check"}}
      <h1 class="govuk-heading-l">Check your answers before submitting your form</h1>
      <dl class="govuk-summary-list">
        {{- range .Answers}}
        <div class="govuk-summary-list__row"><dt class="govuk-summary-list__key">{{.Name}}</dt><dd class="govuk-summary-list__value">{{.Value}}</dd></div>
        {{- end}}
      </dl>
      <form action="{{.Action}}" method="post" novalidate>
        <input type="hidden" name="authenticity_token" value="{{.Token}}" autocomplete="off">
        <input type="hidden" name="notify_reference" value="{{.Reference}}">
        {{- if .AskConfirmation}}
        <div class="govuk-radios">
          <div class="govuk-radios__item"><input class="govuk-radios__input" type="radio" name="email_confirmation_input[send_confirmation]" value="send_email"></div>
          <div class="govuk-radios__item"><input class="govuk-radios__input" type="radio" name="email_confirmation_input[send_confirmation]" value="skip_confirmation"></div>
        </div>
        {{- end}}
        <button type="submit" class="govuk-button">Submit</button>
      </form>
{{end}}
{{define "submitted"}}
      <div class="govuk-panel govuk-panel--confirmation">
        <h1 class="govuk-panel__title">Your form has been submitted</h1>
      </div>
{{end}}
{{define "error"}}
      <h1 class="govuk-heading-l">{{.Title}}</h1>
      <p class="govuk-body">{{.Message}}</p>
{{end}}
`))
