package util

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"
)

// JsonWrite writes v as the JSON body of a response with the given status code.
func JsonWrite(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	err := json.NewEncoder(w).Encode(v)
	if err != nil {
		log.Error().Err(err).Msg("error writing response")
	}
}
