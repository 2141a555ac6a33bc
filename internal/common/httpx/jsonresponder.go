package httpx

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"
	"github.com/tansive/modhost/internal/common/logtrace"
)

// SendJsonRsp writes msg as JSON. Strings and byte slices that already hold
// valid JSON are written verbatim. Location is only set on 201 responses.
func SendJsonRsp(ctx context.Context, w http.ResponseWriter, statusCode int, msg any, location ...string) {
	var msgJson []byte
	switch v := msg.(type) {
	case string:
		if json.Valid([]byte(v)) {
			msgJson = []byte(v)
		}
	case []byte:
		if json.Valid(v) {
			msgJson = v
		}
	case json.RawMessage:
		if json.Valid(v) {
			msgJson = v
		}
	default:
		var err error
		msgJson, err = json.Marshal(msg)
		if err != nil {
			log.Ctx(ctx).Err(err).Msg("unable to marshal json")
			ErrApplicationError("Id: " + logtrace.RequestIdFromContext(ctx)).Send(w)
			return
		}
	}
	w.Header().Set("Content-Type", "application/json")
	if statusCode == http.StatusCreated && len(location) > 0 {
		w.Header().Set("Location", location[0])
	}
	w.WriteHeader(statusCode)
	w.Write(msgJson)
}
