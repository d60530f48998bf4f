package commands

import (
	"bytes"
	"chatterbox/internal/api"
	"chatterbox/internal/config"
	"chatterbox/internal/models"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// AddUser asks the running server's admin API to create a contact.
func AddUser(fullName string, cfg *config.Config) error {
	reqBody, err := json.Marshal(api.AddUserRequest{FullName: fullName})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("http://%s/admin/users", cfg.AdminAddr)
	resp, err := http.Post(url, "application/json", bytes.NewBuffer(reqBody))
	if err != nil {
		return fmt.Errorf("failed to call admin API: %w. Is the server running?", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("failed to add user (Status: %d): %s", resp.StatusCode, string(body))
	}

	var user models.Contact
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	fmt.Printf("\nUser Created Successfully!\n")
	fmt.Printf("Name:    %s\n", user.FullName)
	fmt.Printf("User ID: %s\n\n", user.ID)
	fmt.Printf("Connect with CHAT_USER_ID=%s CHAT_SERVER_URL=%s\n", user.ID, cfg.BaseURL)
	return nil
}
