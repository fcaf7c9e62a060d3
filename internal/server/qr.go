package server

import (
	"log"
	"net/http"

	qrcode "github.com/skip2/go-qrcode"
)

// HandleQR serves a PNG QR code pointing at the front-end join page,
// for the lobby screen projected at the venue.
func (gs *GameServer) HandleQR(w http.ResponseWriter, r *http.Request) {
	png, err := qrcode.Encode(gs.cfg.JoinURL, qrcode.Medium, 256)
	if err != nil {
		log.Println("qr:", err)
		http.Error(w, "failed to generate QR code", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Write(png)
}
