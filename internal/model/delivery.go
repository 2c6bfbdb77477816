package model

import (
	"time"

	"github.com/google/uuid"
)

type Source string

const (
	SourceAlarm        Source = "alarm"
	SourceSubscription Source = "subscription"
)

type DeliveryItem struct {
	ID        string    `json:"id"`
	Recipient string    `json:"recipient"`
	Payload   string    `json:"payload"`
	Origin    string    `json:"origin"`
	Source    Source    `json:"source"`
	Kind      Kind      `json:"kind"`
	Subject   string    `json:"subject"`
	Region    string    `json:"region"`
	CreatedAt time.Time `json:"created_at"`
}

func NewDeliveryItem(source Source, origin, recipient string, ev Event, region string, now time.Time) DeliveryItem {
	return DeliveryItem{
		ID:        uuid.NewString(),
		Recipient: recipient,
		Payload:   "[" + region + "] " + ev.Summary(),
		Origin:    origin,
		Source:    source,
		Kind:      ev.Kind(),
		Subject:   ev.Subject(),
		Region:    region,
		CreatedAt: now.UTC(),
	}
}

type SnoozedItem struct {
	SubscriberID string    `json:"subscriber_id"`
	Day          string    `json:"day"`
	Region       string    `json:"region"`
	StopName     string    `json:"stop_name"`
	Reward       string    `json:"reward"`
	Summary      string    `json:"summary"`
	Latitude     float64   `json:"latitude"`
	Longitude    float64   `json:"longitude"`
	CreatedAt    time.Time `json:"created_at"`
}

func NewSnoozedItem(subscriberID string, task *Task, region string, now time.Time) SnoozedItem {
	return SnoozedItem{
		SubscriberID: subscriberID,
		Day:          DayBucket(now),
		Region:       region,
		StopName:     task.StopName,
		Reward:       task.Reward,
		Summary:      task.Summary(),
		Latitude:     task.Latitude,
		Longitude:    task.Longitude,
		CreatedAt:    now.UTC(),
	}
}
