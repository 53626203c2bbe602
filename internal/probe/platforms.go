package probe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/HanTheDev/phone-checker/internal/models"
)

// whatsapp asks wa.me for the click-to-chat page of the number.
type whatsapp struct{}

func NewWhatsApp(client *http.Client, opts Options) *HTTPProber {
	return newHTTPProber(models.WhatsApp, client, whatsapp{}, opts)
}

func (whatsapp) newRequest(ctx context.Context, baseURL string, n models.PhoneNumber) (*http.Request, error) {
	return http.NewRequestWithContext(ctx, http.MethodHead, baseURL+"/"+n.Digits(), nil)
}

func (whatsapp) interpret(resp *http.Response, _ []byte) (bool, map[string]string, error) {
	meta := map[string]string{"method": "wa.me_check"}
	switch {
	case resp.StatusCode == http.StatusOK:
		return true, meta, nil
	case resp.StatusCode == http.StatusNotFound:
		return false, meta, nil
	case resp.StatusCode >= 300 && resp.StatusCode < 400:
		location := strings.ToLower(resp.Header.Get("Location"))
		meta["location"] = location
		if strings.Contains(location, "web.whatsapp.com") || strings.Contains(location, "api.whatsapp.com") {
			return true, meta, nil
		}
		if strings.Contains(location, "error") || strings.Contains(location, "invalid") {
			return false, meta, nil
		}
		return true, meta, nil
	default:
		return false, meta, fmt.Errorf("%w: HTTP %d", ErrUnexpectedReply, resp.StatusCode)
	}
}

// telegram starts the my.telegram.org login flow, which rejects numbers
// that have no account before any code is sent.
type telegram struct{}

func NewTelegram(client *http.Client, opts Options) *HTTPProber {
	return newHTTPProber(models.Telegram, client, telegram{}, opts)
}

func (telegram) newRequest(ctx context.Context, baseURL string, n models.PhoneNumber) (*http.Request, error) {
	body, err := json.Marshal(map[string]string{"phone": n.E164})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/auth/send_password", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (telegram) interpret(resp *http.Response, body []byte) (bool, map[string]string, error) {
	meta := map[string]string{"method": "login_api"}
	if resp.StatusCode != http.StatusOK {
		return false, meta, fmt.Errorf("%w: HTTP %d", ErrUnexpectedReply, resp.StatusCode)
	}

	var reply struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &reply); err == nil && reply.Error != "" {
		meta["telegram_error"] = reply.Error
		msg := strings.ToLower(reply.Error)
		if strings.Contains(msg, "not registered") || strings.Contains(msg, "invalid") {
			return false, meta, nil
		}
	}
	return true, meta, nil
}

// instagram submits the phone field of the signup form; a taken number is
// reported as a field error.
type instagram struct{}

func NewInstagram(client *http.Client, opts Options) *HTTPProber {
	return newHTTPProber(models.Instagram, client, instagram{}, opts)
}

func (instagram) newRequest(ctx context.Context, baseURL string, n models.PhoneNumber) (*http.Request, error) {
	form := url.Values{
		"email":            {""},
		"username":         {""},
		"first_name":       {""},
		"opt_into_one_tap": {"false"},
		"phone_number":     {n.E164},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/accounts/web_create_ajax/attempt/", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	return req, nil
}

func (instagram) interpret(resp *http.Response, body []byte) (bool, map[string]string, error) {
	meta := map[string]string{"method": "signup_api"}
	if resp.StatusCode != http.StatusOK {
		return false, meta, fmt.Errorf("%w: HTTP %d", ErrUnexpectedReply, resp.StatusCode)
	}

	var reply struct {
		Errors struct {
			PhoneNumber []string `json:"phone_number"`
		} `json:"errors"`
	}
	if err := json.Unmarshal(body, &reply); err != nil {
		return false, meta, fmt.Errorf("%w: invalid JSON: %v", ErrUnexpectedReply, err)
	}
	if len(reply.Errors.PhoneNumber) == 0 {
		return false, meta, nil
	}

	msg := reply.Errors.PhoneNumber[0]
	meta["instagram_error"] = msg
	lower := strings.ToLower(msg)
	return strings.Contains(lower, "already") || strings.Contains(lower, "taken"), meta, nil
}

// snapchat validates the number as if creating an account.
type snapchat struct{}

func NewSnapchat(client *http.Client, opts Options) *HTTPProber {
	return newHTTPProber(models.Snapchat, client, snapchat{}, opts)
}

func (snapchat) newRequest(ctx context.Context, baseURL string, n models.PhoneNumber) (*http.Request, error) {
	form := url.Values{
		"phone_country_code": {strconv.Itoa(n.CountryCode)},
		"phone_number":       {n.National},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/accounts/validate_phone_number", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=UTF-8")
	return req, nil
}

func (snapchat) interpret(resp *http.Response, body []byte) (bool, map[string]string, error) {
	meta := map[string]string{"method": "phone_validation"}
	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusBadRequest:
		// Snapchat answers 400 for numbers already bound to an account.
		return true, meta, nil
	default:
		return false, meta, fmt.Errorf("%w: HTTP %d", ErrUnexpectedReply, resp.StatusCode)
	}

	var reply struct {
		Error     string `json:"error"`
		ErrorCode string `json:"error_code"`
	}
	if err := json.Unmarshal(body, &reply); err != nil {
		return false, meta, fmt.Errorf("%w: invalid JSON: %v", ErrUnexpectedReply, err)
	}
	if reply.ErrorCode != "" {
		meta["error_code"] = reply.ErrorCode
	}
	switch reply.ErrorCode {
	case "PHONE_NUMBER_TAKEN", "PHONE_ALREADY_VERIFIED":
		return true, meta, nil
	default:
		return false, meta, nil
	}
}
