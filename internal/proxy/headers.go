package proxy

import (
	"net/http"

	"github.com/tunnelforge/tunneld/internal/frame"
	"github.com/tunnelforge/tunneld/internal/httpframe"
)

func toFrameHeaders(h http.Header) []frame.Header { return httpframe.ToFrame(h) }

func applyFrameHeaders(w http.Header, headers []frame.Header) { httpframe.Apply(w, headers) }
