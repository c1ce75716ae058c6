package domain

import "testing"

func TestUser_Validate(t *testing.T) {
	testCases := []struct {
		name    string
		user    User
		wantErr bool
	}{
		{"valid", User{ID: "u1", Email: "a@b.com", DisplayName: "Ann"}, false},
		{"display name optional", User{ID: "u1", Email: "a@b.com"}, false},
		{"missing id", User{Email: "a@b.com"}, true},
		{"missing email", User{ID: "u1"}, true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.user.Validate()
			if (err != nil) != tc.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}
