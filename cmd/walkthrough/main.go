package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"time"

	log "github.com/sirupsen/logrus"
)

// apiClient calls the maintenance API as one logged-in user.
type apiClient struct {
	baseURL string
	token   string
	http    *http.Client
}

// apiError is a non-2xx response.
type apiError struct {
	Status  int
	Code    string `json:"error"`
	Message string `json:"message"`
}

func (e *apiError) Error() string {
	return fmt.Sprintf("status %d: %s: %s", e.Status, e.Code, e.Message)
}

func newClient(baseURL string) *apiClient {
	return &apiClient{baseURL: baseURL, http: &http.Client{Timeout: 10 * time.Second}}
}

func (c *apiClient) do(method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal body: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		apiErr := &apiError{Status: resp.StatusCode}
		_ = json.Unmarshal(raw, apiErr)
		return apiErr
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// login returns a client carrying the user's token.
func login(baseURL, username, password string) (*apiClient, error) {
	c := newClient(baseURL)
	var resp struct {
		Token string `json:"token"`
	}
	if err := c.do(http.MethodPost, "/auth/login", map[string]string{"username": username, "password": password}, &resp); err != nil {
		return nil, fmt.Errorf("login %s: %w", username, err)
	}
	c.token = resp.Token
	return c, nil
}

// crew is one site with a vehicle and a user per role.
type crew struct {
	SiteID      string
	VehicleID   string
	Driver      *apiClient
	Technician  *apiClient
	Coordinator *apiClient
}

type entity struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// setup creates a site, a vehicle and three users through the admin client.
func setup(admin *apiClient, suffix string) (*crew, error) {
	var site entity
	if err := admin.do(http.MethodPost, "/sites", map[string]string{"name": "Depot " + suffix}, &site); err != nil {
		return nil, fmt.Errorf("create site: %w", err)
	}
	var vehicle entity
	if err := admin.do(http.MethodPost, "/vehicles", map[string]string{
		"site_id": site.ID,
		"plate":   "WLK" + suffix,
		"name":    "Walkthrough van " + suffix,
	}, &vehicle); err != nil {
		return nil, fmt.Errorf("create vehicle: %w", err)
	}

	const password = "walkthrough-pass"
	c := &crew{SiteID: site.ID, VehicleID: vehicle.ID}
	for _, role := range []string{"driver", "technician", "coordinator"} {
		username := role + suffix
		err := admin.do(http.MethodPost, "/auth/register", map[string]string{
			"username": username,
			"email":    username + "@walkthrough.local",
			"password": password,
			"role":     role,
			"site_id":  site.ID,
		}, nil)
		if err != nil {
			return nil, fmt.Errorf("register %s: %w", role, err)
		}
		user, err := login(admin.baseURL, username, password)
		if err != nil {
			return nil, err
		}
		switch role {
		case "driver":
			c.Driver = user
		case "technician":
			c.Technician = user
		case "coordinator":
			c.Coordinator = user
		}
	}

	log.WithFields(log.Fields{
		"site_id":    c.SiteID,
		"vehicle_id": c.VehicleID,
	}).Info("Created walkthrough crew")
	return c, nil
}

type step struct {
	name   string
	client *apiClient
	path   string
	body   map[string]interface{}
}

// run drives one request through every stage and returns its final status.
func run(c *crew, reject bool) (string, error) {
	var req entity
	err := c.Driver.do(http.MethodPost, "/requests", map[string]string{
		"vehicle_id": c.VehicleID,
		"issue_text": "Warning light on dashboard",
		"signature":  "driver-signature",
	}, &req)
	if err != nil {
		return "", fmt.Errorf("submit: %w", err)
	}
	logger := log.WithField("request_id", req.ID)
	logger.WithField("status", req.Status).Info("Submitted")

	entry := time.Now().UTC()
	decision := map[string]interface{}{"decision": "approved", "signature": "coordinator-signature"}
	if reject {
		decision = map[string]interface{}{"decision": "rejected", "reason": "Not economical to repair", "signature": "coordinator-signature"}
	}
	steps := []step{
		{"diagnosis", c.Technician, "/diagnosis", map[string]interface{}{"diagnosis_text": "Faulty sensor", "entry_time": entry, "signature": "technician-signature"}},
		{"decision", c.Coordinator, "/decision", decision},
		{"repair", c.Technician, "/repair", map[string]interface{}{"work_performed": "Replaced sensor", "parts_used": "O2 sensor", "exit_time": entry.Add(time.Hour), "signature": "technician-signature"}},
		{"acknowledgment", c.Driver, "/acknowledgment", map[string]interface{}{"notes": "Received", "signature": "driver-signature"}},
		{"closure", c.Coordinator, "/closure", map[string]interface{}{"signature": "coordinator-signature"}},
	}

	for _, s := range steps {
		if err := s.client.do(http.MethodPut, "/requests/"+req.ID+s.path, s.body, &req); err != nil {
			return req.Status, fmt.Errorf("%s: %w", s.name, err)
		}
		logger.WithFields(log.Fields{"step": s.name, "status": req.Status}).Info("Advanced")
		if req.Status == "rejected" || req.Status == "closed" {
			break
		}
	}
	return req.Status, nil
}

func main() {
	apiURL := os.Getenv("API_BASE_URL")
	if apiURL == "" {
		apiURL = "http://localhost:8080/api"
	}

	runs := 1
	if v := os.Getenv("WALK_RUNS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 1 {
			runs = n
		}
	}
	rejectShare := 0.0
	if v := os.Getenv("WALK_REJECT_SHARE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			rejectShare = f
		}
	}

	log.WithFields(log.Fields{
		"api_url": apiURL,
		"runs":    runs,
	}).Info("Starting maintenance walkthrough")

	admin, err := login(apiURL, os.Getenv("ADMIN_USERNAME"), os.Getenv("ADMIN_PASSWORD"))
	if err != nil {
		log.WithError(err).Fatal("Admin login failed. Ensure ADMIN_USERNAME and ADMIN_PASSWORD match the server.")
	}

	c, err := setup(admin, strconv.FormatInt(time.Now().Unix()%100000, 10))
	if err != nil {
		log.WithError(err).Fatal("Setup failed")
	}

	outcomes := map[string]int{}
	for i := 0; i < runs; i++ {
		status, err := run(c, rand.Float64() < rejectShare)
		if err != nil {
			log.WithError(err).Error("Walkthrough run failed")
			outcomes["failed"]++
			continue
		}
		outcomes[status]++
	}

	log.WithFields(log.Fields{
		"closed":   outcomes["closed"],
		"rejected": outcomes["rejected"],
		"failed":   outcomes["failed"],
	}).Info("Walkthrough completed")
	if outcomes["failed"] > 0 {
		os.Exit(1)
	}
}
