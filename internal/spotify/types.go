package spotify

// Device represents a playback device reported by the provider.
type Device struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Type          string `json:"type"`
	IsActive      bool   `json:"is_active"`
	IsRestricted  bool   `json:"is_restricted"`
	VolumePercent int    `json:"volume_percent"`
}

// Track identifies a playable track. URI is the provider reference
// ("spotify:track:..."), the rest is display metadata.
type Track struct {
	URI    string `json:"uri"`
	Name   string `json:"name"`
	Artist string `json:"artist"`
}

type devicesResponse struct {
	Devices []Device `json:"devices"`
}

type apiError struct {
	Error struct {
		Status  int    `json:"status"`
		Message string `json:"message"`
	} `json:"error"`
}
