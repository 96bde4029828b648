package model

import "time"

// ItemType selects the verification schema for an item.
type ItemType string

// Item types.
const (
	ItemTypeIDCard           ItemType = "id_card"
	ItemTypeCreditCard       ItemType = "credit_card"
	ItemTypePhone            ItemType = "phone"
	ItemTypeBirthCertificate ItemType = "birth_certificate"
	ItemTypeOther            ItemType = "other"
)

// ItemTypes lists every item type in display order.
var ItemTypes = []ItemType{
	ItemTypeIDCard,
	ItemTypeCreditCard,
	ItemTypePhone,
	ItemTypeBirthCertificate,
	ItemTypeOther,
}

// Valid reports whether t is a known item type.
func (t ItemType) Valid() bool {
	for _, known := range ItemTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Item statuses. Status only ever moves forward along this list.
const (
	ItemStatusPending    = "pending"
	ItemStatusPreClaimed = "pre-claimed"
	ItemStatusClaimed    = "claimed"
)

// Keys of ExtractedInfo.
const (
	FieldName        = "name"
	FieldIDNumber    = "idNumber"
	FieldDateOfBirth = "dateOfBirth"
	FieldCardNumber  = "cardNumber"
	FieldPhoneNumber = "phoneNumber"
	FieldPhoneModel  = "phoneModel"
	FieldDescription = "description"
)

// ExtractedInfo holds the sensitive, type-specific fields a finder read off
// the item. Every key is optional.
type ExtractedInfo map[string]string

// Item is a found object awaiting its owner.
type Item struct {
	ID                       string        `json:"id"`
	Type                     ItemType      `json:"type"`
	Name                     string        `json:"name"`
	Description              string        `json:"description,omitempty"`
	FoundDate                string        `json:"found_date,omitempty"`
	Location                 string        `json:"location,omitempty"`
	ContactInfo              string        `json:"contact_info,omitempty"`
	ExtractedInfo            ExtractedInfo `json:"extracted_info,omitempty"`
	PhoneNumber              string        `json:"phone_number,omitempty"`
	ImageRef                 string        `json:"-"`
	ImageMime                string        `json:"image_mime,omitempty"`
	SuggestedPickupLocations []string      `json:"suggested_pickup_locations,omitempty"`
	Status                   string        `json:"status"`
	CreatedAt                time.Time     `json:"created_at"`
	UpdatedAt                time.Time     `json:"updated_at"`
}

// HasImage reports whether an image has been stored for the item.
func (i *Item) HasImage() bool {
	return i.ImageRef != ""
}

// TipsFinder reports whether the finder left a phone number that can
// receive a tip.
func (i *Item) TipsFinder() bool {
	return i.PhoneNumber != ""
}
