package geo

import (
	"encoding/json"
	"fmt"
)

// Kind selects a geolocation provider. Each kind fixes a URL and a mapping
// from that provider's response onto Location.
type Kind uint8

const (
	IPAPI Kind = iota
	IPAPICo
	Geolocation
)

var kindNames = [...]string{"ipapi", "ipapi_co", "geolocation"}

// KindFromName maps a configured service name onto a Kind. Unknown names
// select IPAPI.
func KindFromName(name string) Kind {
	for i, n := range kindNames {
		if n == name {
			return Kind(i)
		}
	}
	return IPAPI
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", k)
}

// URL returns the provider's fixed lookup address.
func (k Kind) URL() string {
	switch k {
	case IPAPICo:
		return "https://ipapi.co/json/"
	case Geolocation:
		return "http://ip-api.com/json/?fields=status,message,country,regionName,city,lat,lon,isp,query"
	default:
		return "http://ip-api.com/json/?fields=status,message,country,countryCode,region,regionName,city,zip,lat,lon,timezone,isp,org,as,query"
	}
}

// decode normalizes a 200 response body.
func (k Kind) decode(body []byte) (Location, error) {
	if k == IPAPICo {
		return decodeIPAPICo(body)
	}
	return decodeIPAPI(body)
}

type serviceError struct{ message string }

func (e *serviceError) Error() string { return "service error: " + e.message }

// ip-api.com serves both IPAPI and Geolocation; only the field list differs.
type ipapiResponse struct {
	Status      string  `json:"status"`
	Message     string  `json:"message"`
	Lat         float64 `json:"lat"`
	Lon         float64 `json:"lon"`
	City        string  `json:"city"`
	RegionName  string  `json:"regionName"`
	Country     string  `json:"country"`
	CountryCode string  `json:"countryCode"`
	ISP         string  `json:"isp"`
	Query       string  `json:"query"`
}

func decodeIPAPI(body []byte) (Location, error) {
	var r ipapiResponse
	if err := json.Unmarshal(body, &r); err != nil {
		return Location{}, err
	}
	if r.Status != StatusSuccess {
		msg := r.Message
		if msg == "" {
			msg = "Unknown"
		}
		return Location{}, &serviceError{message: msg}
	}
	return Location{
		Status:      StatusSuccess,
		Latitude:    r.Lat,
		Longitude:   r.Lon,
		City:        r.City,
		Region:      r.RegionName,
		Country:     r.Country,
		CountryCode: r.CountryCode,
		ISP:         r.ISP,
		IP:          r.Query,
		Service:     "ip-api.com",
	}, nil
}

type ipapiCoResponse struct {
	Error       bool    `json:"error"`
	Reason      string  `json:"reason"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
	City        string  `json:"city"`
	Region      string  `json:"region"`
	CountryName string  `json:"country_name"`
	CountryCode string  `json:"country_code"`
	Org         string  `json:"org"`
	IP          string  `json:"ip"`
}

func decodeIPAPICo(body []byte) (Location, error) {
	var r ipapiCoResponse
	if err := json.Unmarshal(body, &r); err != nil {
		return Location{}, err
	}
	if r.Error {
		return Location{}, &serviceError{message: r.Reason}
	}
	return Location{
		Status:      StatusSuccess,
		Latitude:    r.Latitude,
		Longitude:   r.Longitude,
		City:        r.City,
		Region:      r.Region,
		Country:     r.CountryName,
		CountryCode: r.CountryCode,
		ISP:         r.Org,
		IP:          r.IP,
		Service:     "ipapi.co",
	}, nil
}
