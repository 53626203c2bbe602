// Command mockplatforms serves fake platform endpoints for local runs.
// Point each PLATFORM_<NAME>_BASE_URL at it, e.g. http://localhost:9000/whatsapp.
package main

import (
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
)

type backend struct {
	// registered holds E.164 numbers that exist on every platform.
	registered map[string]bool
	delay      time.Duration
}

func main() {
	addr := flag.String("addr", ":9000", "listen address")
	numbers := flag.String("registered", "+33612345678", "comma separated E.164 numbers reported as registered")
	delay := flag.Duration("delay", 0, "artificial latency added to every reply")
	flag.Parse()

	b := &backend{registered: map[string]bool{}, delay: *delay}
	for _, n := range strings.Split(*numbers, ",") {
		if n = strings.TrimSpace(n); n != "" {
			b.registered[n] = true
		}
	}

	log.Printf("Mock platforms starting on %s (%d registered numbers)", *addr, len(b.registered))
	srv := &http.Server{Addr: *addr, Handler: b.routes(), ReadHeaderTimeout: 5 * time.Second}
	log.Fatal(srv.ListenAndServe())
}

func (b *backend) routes() http.Handler {
	r := mux.NewRouter()
	r.Use(b.logRequests)
	r.HandleFunc("/whatsapp/{digits}", b.whatsapp).Methods("HEAD", "GET")
	r.HandleFunc("/telegram/auth/send_password", b.telegram).Methods("POST")
	r.HandleFunc("/instagram/accounts/web_create_ajax/attempt/", b.instagram).Methods("POST")
	r.HandleFunc("/snapchat/accounts/validate_phone_number", b.snapchat).Methods("POST")
	return r
}

func (b *backend) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if b.delay > 0 {
			time.Sleep(b.delay)
		}
		log.Printf("Received request: %s %s", r.Method, r.URL.Path)
		next.ServeHTTP(w, r)
	})
}

func (b *backend) whatsapp(w http.ResponseWriter, r *http.Request) {
	if b.registered["+"+mux.Vars(r)["digits"]] {
		w.WriteHeader(http.StatusOK)
		return
	}
	w.WriteHeader(http.StatusNotFound)
}

func (b *backend) telegram(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Phone string `json:"phone"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if b.registered[req.Phone] {
		writeJSON(w, map[string]interface{}{"random_hash": "mock"})
		return
	}
	writeJSON(w, map[string]interface{}{"error": "Phone number not registered"})
}

func (b *backend) instagram(w http.ResponseWriter, r *http.Request) {
	r.ParseForm()
	var phoneErrors []string
	if b.registered[r.PostForm.Get("phone_number")] {
		phoneErrors = []string{"This phone number is already in use."}
	}
	writeJSON(w, map[string]interface{}{
		"errors": map[string][]string{"phone_number": phoneErrors},
	})
}

func (b *backend) snapchat(w http.ResponseWriter, r *http.Request) {
	r.ParseForm()
	number := "+" + r.PostForm.Get("phone_country_code") + strings.TrimLeft(r.PostForm.Get("phone_number"), "0")
	if b.registered[number] {
		writeJSON(w, map[string]string{"error_code": "PHONE_NUMBER_TAKEN"})
		return
	}
	writeJSON(w, map[string]string{"error_code": "OK"})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
