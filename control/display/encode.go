// Package display turns a time into the 8-LED pattern and clocks it out to a 74HC595.
//
// The face is read left to right, most significant bit first:
//
//	H H H H | T T T | F
//
// HHHH is the hour in binary (1-12), TTT is the tens digit of the minutes (0-5), and F is lit for
// the second half of each ten minutes.  09:35 is 1001 011 1, 02:10 is 0010 001 0.  The display is
// only good to five minutes.
package display

// Encode returns the LED pattern for hours and minutes.
func Encode(hours, minutes int) byte {
	var five byte
	if minutes%10 >= 5 {
		five = 1
	}
	return byte(hours)<<4 | byte(minutes/10)<<1 | five
}

// Decode splits a pattern back into the hour, the tens of minutes, and the five-minute flag.
func Decode(b byte) (hours, tens int, five bool) {
	return int(b >> 4), int(b>>1) & 0x7, b&1 == 1
}
