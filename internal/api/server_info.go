package api

import "net/http"

type ServerInfoHandler struct {
	info ServerInfoResponse
}

func NewServerInfoHandler(name string, uploadMax int64, authMode, storageBackend string) *ServerInfoHandler {
	return &ServerInfoHandler{
		info: ServerInfoResponse{
			Name:           name,
			UploadMaxBytes: uploadMax,
			AuthMode:       authMode,
			StorageBackend: storageBackend,
		},
	}
}

type ServerInfoResponse struct {
	Name           string `json:"name"`
	UploadMaxBytes int64  `json:"uploadMaxBytes"`
	AuthMode       string `json:"authMode"`
	StorageBackend string `json:"storageBackend"`
}

// GET /api/server/info
func (h *ServerInfoHandler) GetInfo(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.info)
}
