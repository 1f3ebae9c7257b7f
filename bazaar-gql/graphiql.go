package bazaargql

import (
	"bytes"
	_ "embed"
	"net/http"
	"text/template"
)

//go:embed graphiql.html
var graphiqlPage string

var graphiqlTemplate = template.Must(template.New("graphiql").Parse(graphiqlPage))

// GraphiQL serves a playground that queries endpoint.
func GraphiQL(endpoint string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		var buffer bytes.Buffer
		if err := graphiqlTemplate.Execute(&buffer, endpoint); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write(buffer.Bytes())
	}
}
