package models

import "time"

type CommunicationStatus string

const (
	CommunicationStatusPending CommunicationStatus = "PENDING"
	CommunicationStatusSent    CommunicationStatus = "SENT"
	CommunicationStatusFailed  CommunicationStatus = "FAILED"
)

func (s CommunicationStatus) Terminal() bool {
	return s == CommunicationStatusSent || s == CommunicationStatusFailed
}

type CampaignStatus string

const (
	CampaignStatusCreated    CampaignStatus = "created"
	CampaignStatusDelivering CampaignStatus = "delivering"
	CampaignStatusCompleted  CampaignStatus = "completed"
)

// Customer is owned by the customer consumer. TotalSpend and LastPurchaseDate
// are also advanced by the order consumer.
type Customer struct {
	ID               string     `bson:"_id" json:"_id"`
	Name             string     `bson:"name" json:"name"`
	Email            string     `bson:"email" json:"email"`
	Phone            string     `bson:"phone,omitempty" json:"phone,omitempty"`
	TotalSpend       float64    `bson:"totalSpend" json:"totalSpend"`
	LastPurchaseDate *time.Time `bson:"lastPurchaseDate,omitempty" json:"lastPurchaseDate,omitempty"`
	Visits           int        `bson:"visits" json:"visits"`
	Tags             []string   `bson:"tags,omitempty" json:"tags,omitempty"`
	CreatedAt        time.Time  `bson:"createdAt" json:"createdAt"`
	UpdatedAt        time.Time  `bson:"updatedAt" json:"updatedAt"`

	// RecentOrderIDs holds the last applied order ids so a redelivered order
	// never bumps totalSpend twice.
	RecentOrderIDs []string `bson:"recentOrderIds,omitempty" json:"-"`
}

type OrderItem struct {
	ProductID string  `bson:"productId" json:"productId"`
	Name      string  `bson:"name" json:"name"`
	Quantity  int     `bson:"quantity" json:"quantity"`
	Price     float64 `bson:"price" json:"price"`
}

type Order struct {
	ID           string      `bson:"_id" json:"_id"`
	CustomerID   string      `bson:"customerId" json:"customerId"`
	CustomerName string      `bson:"customerName,omitempty" json:"customerName,omitempty"`
	OrderDate    time.Time   `bson:"orderDate" json:"orderDate"`
	Amount       float64     `bson:"amount" json:"amount"`
	Items        []OrderItem `bson:"items" json:"items"`
	Status       string      `bson:"status" json:"status"`
	CreatedAt    time.Time   `bson:"createdAt" json:"createdAt"`
	UpdatedAt    time.Time   `bson:"updatedAt" json:"updatedAt"`
}

type CommunicationLogEntry struct {
	ID          string              `bson:"_id" json:"_id"`
	CampaignID  string              `bson:"campaignId" json:"campaignId"`
	CustomerID  string              `bson:"customerId" json:"customerId"`
	Message     string              `bson:"message" json:"message"`
	Status      CommunicationStatus `bson:"status" json:"status"`
	DeliveredAt *time.Time          `bson:"deliveredAt" json:"deliveredAt"`
	ErrorReason *string             `bson:"errorReason" json:"errorReason"`
	CreatedAt   time.Time           `bson:"createdAt" json:"createdAt"`
	UpdatedAt   time.Time           `bson:"updatedAt" json:"updatedAt"`
}

// StatusUpdate is one pending write of the communication consumer's batch.
type StatusUpdate struct {
	ID          string
	Status      CommunicationStatus
	DeliveredAt *time.Time
	ErrorReason *string
	UpdatedAt   time.Time
}

type Campaign struct {
	ID              string         `bson:"_id" json:"_id"`
	Name            string         `bson:"name" json:"name"`
	SegmentRules    interface{}    `bson:"segmentRules" json:"segmentRules"`
	MessageTemplate string         `bson:"messageTemplate" json:"messageTemplate"`
	AudienceSize    int            `bson:"audienceSize" json:"audienceSize"`
	Status          CampaignStatus `bson:"status" json:"status"`
	CreatedAt       time.Time      `bson:"createdAt" json:"createdAt"`
	UpdatedAt       time.Time      `bson:"updatedAt" json:"updatedAt"`
	CompletedAt     *time.Time     `bson:"completedAt,omitempty" json:"completedAt,omitempty"`
}

type DeliveryStats struct {
	Sent    int `json:"sent"`
	Failed  int `json:"failed"`
	Pending int `json:"pending"`
	Total   int `json:"total"`
}

// Add counts n entries in status s.
func (d *DeliveryStats) Add(s CommunicationStatus, n int) {
	switch s {
	case CommunicationStatusSent:
		d.Sent += n
	case CommunicationStatusFailed:
		d.Failed += n
	case CommunicationStatusPending:
		d.Pending += n
	}
	d.Total += n
}
