package domain

// Rating is the marketplace risk category of a loan.
type Rating string

const (
	RatingAAAAA Rating = "AAAAA"
	RatingAAAA  Rating = "AAAA"
	RatingAAA   Rating = "AAA"
	RatingAAE   Rating = "AAE"
	RatingAA    Rating = "AA"
	RatingAE    Rating = "AE"
	RatingA     Rating = "A"
	RatingB     Rating = "B"
	RatingC     Rating = "C"
	RatingD     Rating = "D"
)

// Ratings lists every rating from the safest to the riskiest.
var Ratings = []Rating{
	RatingAAAAA, RatingAAAA, RatingAAA, RatingAAE, RatingAA,
	RatingAE, RatingA, RatingB, RatingC, RatingD,
}

// Valid reports whether r is one of the known ratings.
func (r Rating) Valid() bool {
	for _, known := range Ratings {
		if r == known {
			return true
		}
	}
	return false
}
