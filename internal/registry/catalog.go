package registry

import "guardianpath/internal/model"

var defaultLocations = []model.Location{
	{ID: "icu", Name: "ICU", Coordinates: model.Coordinates{Lat: 28.6139, Lng: 77.2090}, Floor: 3, Building: "Main"},
	{ID: "pharmacy", Name: "Pharmacy", Coordinates: model.Coordinates{Lat: 28.6145, Lng: 77.2095}, Floor: 1, Building: "Main"},
	{ID: "reception", Name: "Reception", Coordinates: model.Coordinates{Lat: 28.6135, Lng: 77.2088}, Floor: 0, Building: "Main"},
	{ID: "emergency", Name: "Emergency Ward", Coordinates: model.Coordinates{Lat: 28.6150, Lng: 77.2100}, Floor: 0, Building: "East Wing"},
	{ID: "ot", Name: "Operation Theatre", Coordinates: model.Coordinates{Lat: 28.6142, Lng: 77.2082}, Floor: 4, Building: "Main"},
	{ID: "radiology", Name: "Radiology", Coordinates: model.Coordinates{Lat: 28.6148, Lng: 77.2078}, Floor: 2, Building: "West Wing"},
	{ID: "lab", Name: "Pathology Lab", Coordinates: model.Coordinates{Lat: 28.6132, Lng: 77.2092}, Floor: 1, Building: "Main"},
	{ID: "cardiology", Name: "Cardiology", Coordinates: model.Coordinates{Lat: 28.6155, Lng: 77.2085}, Floor: 5, Building: "East Wing"},
}

var defaultIdentities = []model.Identity{
	{ID: "1", Name: "Dr. Rahul Sharma", Role: "Senior Surgeon", Department: "Surgery", BadgeID: "MED-001"},
	{ID: "2", Name: "Dr. Priya Patel", Role: "Cardiologist", Department: "Cardiology", BadgeID: "MED-002"},
	{ID: "3", Name: "Dr. Aman Singh", Role: "Emergency Physician", Department: "Emergency", BadgeID: "MED-003"},
	{ID: "4", Name: "Dr. Neha Gupta", Role: "Anesthesiologist", Department: "Surgery", BadgeID: "MED-004"},
	{ID: "5", Name: "Dr. Vikram Rao", Role: "Radiologist", Department: "Radiology", BadgeID: "MED-005"},
	{ID: "6", Name: "Nurse Sunita", Role: "Head Nurse", Department: "ICU", BadgeID: "NRS-001"},
	{ID: "7", Name: "Dr. Anjali Mehta", Role: "Pathologist", Department: "Laboratory", BadgeID: "MED-006"},
	{ID: "8", Name: "Dr. Karan Malhotra", Role: "Neurosurgeon", Department: "Surgery", BadgeID: "MED-007"},
}

// Default returns the built-in single-campus hospital catalog.
func Default() *Registry {
	r, err := New(defaultLocations, defaultIdentities)
	if err != nil {
		panic(err)
	}
	return r
}
