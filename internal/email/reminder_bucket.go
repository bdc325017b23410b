package email

// Bucket carries the language used in a 24h-reminder email for a given
// remaining fraction: ≤10% urgent, ≤33% critical, ≤66% past halfway, else
// generic.
type Bucket struct {
	Label    string
	Sentence string
}

// ReminderBucket selects reminder language by remaining_fraction.
func ReminderBucket(remainingFraction float64) Bucket {
	switch {
	case remainingFraction <= 0.10:
		return Bucket{Label: "URGENT", Sentence: "Time is almost up."}
	case remainingFraction <= 0.33:
		return Bucket{Label: "Critical", Sentence: "Your deadline is close."}
	case remainingFraction <= 0.66:
		return Bucket{Label: "Past halfway", Sentence: "More than half your time has passed."}
	default:
		return Bucket{Label: "Reminder", Sentence: "This is your scheduled check-in reminder."}
	}
}
