package fusion

import (
	"encoding/json"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	endpointSearch        = "cruiseresults"
	endpointRateCodes     = "cruiseratecodes"
	endpointCabinGrades   = "cruisecabingrades"
	endpointCabins        = "cruisecabins"
	endpointBasketAdd     = "basketadd"
	endpointBasket        = "basket"
	endpointBasketRemove  = "basketremove"
	endpointBook          = "book"
	endpointPastPassenger = "cruisepastpassenger"
)

// SearchParams filters a cruise search.
type SearchParams struct {
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
	Adults    int    `json:"adults"`
	Children  int    `json:"children"`
	LineIDs   []int  `json:"line_ids,omitempty"`
	ShipIDs   []int  `json:"ship_ids,omitempty"`
	RegionID  int    `json:"region_id,omitempty"`
	MinNights int    `json:"min_nights,omitempty"`
	MaxNights int    `json:"max_nights,omitempty"`
	Page      int    `json:"page,omitempty"`
}

func (p SearchParams) values() url.Values {
	v := url.Values{}
	setString(v, "startdate", p.StartDate)
	setString(v, "enddate", p.EndDate)
	setInt(v, "adults", p.Adults)
	setInt(v, "children", p.Children)
	setInt(v, "regionid", p.RegionID)
	setInt(v, "minnights", p.MinNights)
	setInt(v, "maxnights", p.MaxNights)
	setInt(v, "page", p.Page)
	setInts(v, "lineid", p.LineIDs)
	setInts(v, "shipid", p.ShipIDs)
	return v
}

type CruiseResult struct {
	CruiseID  string   `json:"cruiseid"`
	ResultNo  string   `json:"resultno"`
	Name      string   `json:"name"`
	LineName  string   `json:"linename"`
	ShipName  string   `json:"shipname"`
	SailDate  string   `json:"saildate"`
	Nights    int      `json:"nights"`
	Ports     []string `json:"ports,omitempty"`
	FromPrice float64  `json:"fromprice"`
	Currency  string   `json:"currency"`
}

type SearchMeta struct {
	TotalResults int `json:"totalresults"`
	Page         int `json:"page"`
	Pages        int `json:"pages"`
}

type SearchResponse struct {
	Results []CruiseResult `json:"results"`
	Meta    SearchMeta     `json:"meta"`
}

type RateCode struct {
	FareCode    string `json:"farecode"`
	Description string `json:"description"`
	Refundable  bool   `json:"refundable"`
	Military    bool   `json:"military,omitempty"`
	Senior      bool   `json:"senior,omitempty"`
}

type CabinGrade struct {
	GradeNo     string  `json:"gradeno"`
	Code        string  `json:"code"`
	Description string  `json:"description"`
	CabinType   string  `json:"cabintype"`
	Price       float64 `json:"price"`
	Currency    string  `json:"currency"`
	Available   bool    `json:"available"`
}

type CabinsRequest struct {
	SessionKey string
	CruiseID   string
	ResultNo   string
	FareCode   string
	GradeNo    string
}

type DeckPlan struct {
	Deck     string `json:"deck"`
	Name     string `json:"name"`
	ImageURL string `json:"imageurl"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
}

type Cabin struct {
	CabinNo    string `json:"cabinno"`
	Deck       string `json:"deck"`
	X1         int    `json:"x1"`
	Y1         int    `json:"y1"`
	X2         int    `json:"x2"`
	Y2         int    `json:"y2"`
	Available  bool   `json:"available"`
	Obstructed bool   `json:"obstructed,omitempty"`
	Beds       string `json:"beds,omitempty"`
}

type CabinsResponse struct {
	DeckPlans []DeckPlan `json:"deckplans"`
	Cabins    []Cabin    `json:"cabins"`
}

type BasketAddRequest struct {
	SessionKey string
	CruiseID   string
	ResultNo   string
	FareCode   string
	GradeNo    string
	CabinNo    string
}

type BasketAddResponse struct {
	ItemKey     string  `json:"itemkey"`
	HoldExpiry  string  `json:"holdexpiry"`
	HoldMinutes int     `json:"holdminutes"`
	Price       float64 `json:"price"`
	Currency    string  `json:"currency"`
}

// HoldExpiresAt resolves the absolute hold deadline. The upstream sends
// either a timestamp or a duration in minutes; fallback is used when it
// sends neither.
func (r BasketAddResponse) HoldExpiresAt(now time.Time, fallback time.Duration) time.Time {
	if ts, ok := parseTimestamp(r.HoldExpiry); ok {
		return ts
	}
	if r.HoldMinutes > 0 {
		return now.Add(time.Duration(r.HoldMinutes) * time.Minute)
	}
	return now.Add(fallback)
}

type BasketItem struct {
	ItemKey    string  `json:"itemkey"`
	CruiseID   string  `json:"cruiseid"`
	CabinNo    string  `json:"cabinno"`
	GradeNo    string  `json:"gradeno"`
	FareCode   string  `json:"farecode"`
	Price      float64 `json:"price"`
	HoldExpiry string  `json:"holdexpiry,omitempty"`
}

type Basket struct {
	Items      []BasketItem `json:"items"`
	TotalPrice float64      `json:"totalprice"`
	Currency   string       `json:"currency"`
}

type Passenger struct {
	Title       string `json:"title"`
	FirstName   string `json:"firstname"`
	LastName    string `json:"lastname"`
	DateOfBirth string `json:"dob"`
	Nationality string `json:"nationality,omitempty"`
	PastPaxNo   string `json:"pastpaxno,omitempty"`
}

type ContactInfo struct {
	Email    string `json:"email"`
	Phone    string `json:"phone"`
	Address1 string `json:"address1,omitempty"`
	City     string `json:"city,omitempty"`
	Postcode string `json:"postcode,omitempty"`
	Country  string `json:"country,omitempty"`
}

// Allocation and Payment are passed through opaquely; their contents are
// cruise-line specific.
type BookRequest struct {
	SessionKey string          `json:"-"`
	ItemKey    string          `json:"itemkey"`
	Passengers []Passenger     `json:"passengers"`
	Contact    ContactInfo     `json:"contact"`
	Allocation json.RawMessage `json:"allocation,omitempty"`
	Payment    json.RawMessage `json:"payment,omitempty"`
}

type BookResponse struct {
	BookingReference string `json:"bookingreference"`
	Status           string `json:"status"`
	// Raw is the full upstream body, kept for audit.
	Raw json.RawMessage `json:"-"`
}

type PastPassengerRequest struct {
	SessionKey   string `json:"session_key"`
	LineID       int    `json:"line_id"`
	MembershipNo string `json:"membership_no"`
	LastName     string `json:"last_name"`
	DateOfBirth  string `json:"dob,omitempty"`
}

type PastPassengerResponse struct {
	Found        bool   `json:"found"`
	MembershipNo string `json:"membershipno"`
	Tier         string `json:"tier"`
	Sailings     int    `json:"sailings"`
}

func parseTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02T15:04:05"} {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}

func setString(v url.Values, key, val string) {
	if val != "" {
		v.Set(key, val)
	}
}

func setInt(v url.Values, key string, val int) {
	if val != 0 {
		v.Set(key, strconv.Itoa(val))
	}
}

func setInts(v url.Values, key string, vals []int) {
	if len(vals) == 0 {
		return
	}
	parts := make([]string, len(vals))
	for i, n := range vals {
		parts[i] = strconv.Itoa(n)
	}
	v.Set(key, strings.Join(parts, ","))
}
