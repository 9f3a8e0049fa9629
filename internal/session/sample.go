package session

// SampleTranscript is the demonstration conversation shown in sample mode.
func SampleTranscript() []Entry {
	return []Entry{
		{ID: "sample-1", Role: RoleAgent, Timestamp: "8:00 PM", Text: "Good evening, welcome to Grand Hotel & Suites. How may I assist you today?"},
		{ID: "sample-2", Role: RoleUser, Timestamp: "8:00 PM", Text: "I'd like to book a room for next weekend please."},
		{ID: "sample-3", Role: RoleAgent, Timestamp: "8:01 PM", Text: "I'd be happy to help you with a reservation. Could you please let me know how many guests will be staying, and do you have a preference for room type? We offer Standard, Deluxe, and Suite accommodations."},
		{ID: "sample-4", Role: RoleUser, Timestamp: "8:01 PM", Text: "Two guests, and we would prefer the Deluxe room."},
		{ID: "sample-5", Role: RoleAgent, Timestamp: "8:02 PM", Text: "Excellent choice. Our Deluxe rooms feature a king-size bed, marble bathroom, and a lovely city view. For next weekend, that would be checking in Friday the 14th and checking out Sunday the 16th. Shall I proceed with this booking?"},
	}
}

// SampleBooking pairs with SampleTranscript.
func SampleBooking() Booking {
	return Booking{
		ConfirmationNumber: "GHS-2026-0214-DLX",
		CheckIn:            "February 14, 2026",
		CheckOut:           "February 16, 2026",
		RoomType:           "Deluxe King",
		Guests:             2,
	}
}
