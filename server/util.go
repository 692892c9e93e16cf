package server

import (
	"encoding/json"
	"net/http"
)

// SendResponse writes a 200 envelope.
func SendResponse(w http.ResponseWriter, success bool, data interface{}, errorMsg string) {
	w.Header().Set("Content-Type", "application/json")

	response := ResponseModel{
		Success: success,
		Data:    data,
		Error:   errorMsg,
	}

	if err := json.NewEncoder(w).Encode(response); err != nil {
		http.Error(w, `{"success": false, "error": "Internal Server Error"}`, http.StatusInternalServerError)
	}
}

// SendResponseWithHeader writes an envelope with an explicit status code and
// optional extra headers. A success reply is always 200; a failure falls back
// to 400 when no code is given.
func SendResponseWithHeader(w http.ResponseWriter, success bool, data interface{}, errorMsg string, statusCode int, payloadHeaders map[string]string) {
	w.Header().Set("Content-Type", "application/json")
	for key, value := range payloadHeaders {
		w.Header().Set(key, value)
	}

	if success {
		w.WriteHeader(http.StatusOK)
	} else if statusCode != 0 {
		w.WriteHeader(statusCode)
	} else {
		w.WriteHeader(http.StatusBadRequest)
	}

	response := ResponseModel{
		Success: success,
		Data:    data,
		Error:   errorMsg,
	}

	if err := json.NewEncoder(w).Encode(response); err != nil {
		http.Error(w, `{"success": false, "error": "Internal Server Error"}`, http.StatusInternalServerError)
	}
}
