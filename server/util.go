package server

import (
	"encoding/json"
	"net/http"
)

func createResponse(success bool, data interface{}, errorMsg string) ResponseModel {
	return ResponseModel{
		Success: success,
		Data:    data,
		Error:   errorMsg,
	}
}

func SendResponse(w http.ResponseWriter, success bool, data interface{}, errorMsg string) {
	response := createResponse(success, data, errorMsg)
	w.Header().Set("Content-Type", "application/json")
	if !success {
		w.WriteHeader(http.StatusInternalServerError)
	}
	if err := json.NewEncoder(w).Encode(response); err != nil {
		http.Error(w, `{"success":false,"error":"Internal Server Error"}`, http.StatusInternalServerError)
	}
}
