package dto

import "time"

type StatusResponse struct {
	Status    string    `json:"status"`
	RoomCount int       `json:"roomCount"`
	Timestamp time.Time `json:"timestamp"`
}

type HealthResponse struct {
	Status string `json:"status"`
}
