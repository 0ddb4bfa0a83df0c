// Package results defines the value objects the scan engine emits and the
// aliased-IP bookkeeping that filters them. Persistence lives behind the
// output sinks; this package only produces well-formed records.
package results

import (
	"time"

	"github.com/google/uuid"

	"github.com/mat-1/matscan/internal/fingerprint"
	"github.com/mat-1/matscan/internal/targets"
)

// ServerRecord is one observation of a responding server.
type ServerRecord struct {
	IP   string `json:"ip"`
	Port uint16 `json:"port"`

	// FirstPinged is set to the observation time on every record; the
	// external store keeps the earliest value when merging history.
	FirstPinged             time.Time  `json:"first_pinged"`
	LastPinged              time.Time  `json:"last_pinged"`
	LastTimePlayerOnline    *time.Time `json:"last_time_player_online,omitempty"`
	LastTimeNoPlayersOnline *time.Time `json:"last_time_no_players_online,omitempty"`

	IsOnlineMode *bool  `json:"is_online_mode,omitempty"`
	FaviconHash  []byte `json:"favicon_hash,omitempty"`

	DescriptionJSON      string  `json:"description_json"`
	DescriptionPlaintext string  `json:"description_plaintext"`
	OnlinePlayers        *int    `json:"online_players,omitempty"`
	MaxPlayers           *int    `json:"max_players,omitempty"`
	VersionName          *string `json:"version_name,omitempty"`
	VersionProtocol      *int    `json:"version_protocol,omitempty"`

	EnforcesSecureChat *bool `json:"enforces_secure_chat,omitempty"`
	PreviewsChat       *bool `json:"previews_chat,omitempty"`

	Software                         fingerprint.Tag `json:"software"`
	FingerprintFieldOrder            string          `json:"fingerprint_field_order,omitempty"`
	FingerprintIsIncorrectFieldOrder bool            `json:"fingerprint_is_incorrect_field_order"`
	FingerprintIsEmptySample         bool            `json:"fingerprint_is_empty_sample"`
	FingerprintIsEmptyFavicon        bool            `json:"fingerprint_is_empty_favicon"`

	PreventsChatReports        *bool   `json:"prevents_chat_reports,omitempty"`
	ForgeDataFMLNetworkVersion *int    `json:"forgedata_fml_network_version,omitempty"`
	ModinfoType                *string `json:"modinfo_type,omitempty"`
	IsModded                   *bool   `json:"is_modded,omitempty"`
	ModpackDataProjectID       *int    `json:"modpackdata_project_id,omitempty"`
	ModpackDataName            *string `json:"modpackdata_name,omitempty"`
	ModpackDataVersion         *string `json:"modpackdata_version,omitempty"`

	Players []PlayerRecord `json:"players,omitempty"`
}

// PlayerRecord is one player sighting from a status sample.
type PlayerRecord struct {
	ServerIP   string    `json:"server_ip"`
	ServerPort uint16    `json:"server_port"`
	UUID       uuid.UUID `json:"uuid"`
	Username   string    `json:"username"`
	OnlineMode *bool     `json:"online_mode,omitempty"`
	FirstSeen  time.Time `json:"first_seen"`
	LastSeen   time.Time `json:"last_seen"`
}

// AliasedIPRecord marks an IP that answers identically on every port.
type AliasedIPRecord struct {
	IP          string    `json:"ip"`
	AllowedPort uint16    `json:"allowed_port"`
	FirstSeen   time.Time `json:"first_seen"`
	LastChecked time.Time `json:"last_checked"`
}

// NewServerRecord builds a record from a classified status response. The
// player sample is omitted when it failed the plausibility checks; the fake
// sample would otherwise pollute player history.
func NewServerRecord(target targets.Target, s *fingerprint.Status, now time.Time) ServerRecord {
	r := ServerRecord{
		IP:   targets.Uint32ToIP(target.IP).String(),
		Port: target.Port,

		FirstPinged:  now,
		LastPinged:   now,
		IsOnlineMode: s.OnlineMode,
		FaviconHash:  s.FaviconHash,

		DescriptionJSON:      s.DescriptionJSON,
		DescriptionPlaintext: s.DescriptionPlain,
		OnlinePlayers:        s.OnlinePlayers,
		MaxPlayers:           s.MaxPlayers,
		VersionName:          s.VersionName,
		VersionProtocol:      s.VersionProtocol,

		EnforcesSecureChat: s.EnforcesSecureChat,
		PreviewsChat:       s.PreviewsChat,

		Software:                         fingerprint.Classify(s),
		FingerprintFieldOrder:            s.Passive.FieldOrder,
		FingerprintIsIncorrectFieldOrder: s.Passive.IncorrectOrder,
		FingerprintIsEmptySample:         s.Passive.EmptySample,
		FingerprintIsEmptyFavicon:        s.Passive.EmptyFavicon,

		PreventsChatReports:        s.PreventsChatReports,
		ForgeDataFMLNetworkVersion: s.ForgeFMLNetworkVersion,
		ModinfoType:                s.ModinfoType,
		IsModded:                   s.IsModded,
		ModpackDataProjectID:       s.ModpackProjectID,
		ModpackDataName:            s.ModpackName,
		ModpackDataVersion:         s.ModpackVersion,
	}

	if len(s.Sample) > 0 && !s.FakeSample {
		r.LastTimePlayerOnline = &now
		for _, p := range s.Sample {
			r.Players = append(r.Players, PlayerRecord{
				ServerIP:   r.IP,
				ServerPort: r.Port,
				UUID:       p.ID,
				Username:   p.Name,
				OnlineMode: playerOnlineMode(p.ID),
				FirstSeen:  now,
				LastSeen:   now,
			})
		}
	} else {
		r.LastTimeNoPlayersOnline = &now
	}
	return r
}

func playerOnlineMode(id uuid.UUID) *bool {
	switch id.Version() {
	case 3:
		v := false
		return &v
	case 4:
		v := true
		return &v
	}
	return nil
}
