// Package types holds the broker's data model entities, including the
// tagged-variant types SPEC_FULL.md §9 calls for in place of duck-typed
// YAML dicts: LaunchContext, GPU, and RoomRole.
package types

import "time"

// LaunchContextKind discriminates LaunchContext's two variants.
type LaunchContextKind string

const (
	LaunchContextURL  LaunchContextKind = "url"
	LaunchContextFile LaunchContextKind = "file"
)

// LaunchContext is the tagged union Url{value} | File{value} from §9.
type LaunchContext struct {
	Type  LaunchContextKind `yaml:"type" json:"type"`
	Value string            `yaml:"value" json:"value"`
}

// GPUKind discriminates GPU's two variants.
type GPUKind string

const (
	GPUNvidia GPUKind = "nvidia"
	GPUDri3   GPUKind = "dri3"
)

// GPU is the tagged union Nvidia{index} | Dri3{device} from §9.
type GPU struct {
	Kind   GPUKind `yaml:"kind" json:"kind"`
	Index  int     `yaml:"index,omitempty" json:"index,omitempty"`
	Device string  `yaml:"device,omitempty" json:"device,omitempty"`
}

// Permission is a viewer's collaboration-room access level.
type Permission string

const (
	PermissionParticipant Permission = "participant"
	PermissionReadOnly    Permission = "readonly"
)

// RoomRole is the tagged union Controller | Viewer{permission} from §9.
type RoomRole struct {
	IsController bool
	Permission   Permission
}

// User is a directory-managed principal.
type User struct {
	Username  string
	PublicKey string // PEM
	IsAdmin   bool
	Settings  UserSettings
}

// UserSettings mirrors SPEC_FULL.md §3's UserSettings entity.
type UserSettings struct {
	Active            bool   `yaml:"active"`
	Group             string `yaml:"group"`
	PersistentStorage bool   `yaml:"persistent_storage"`
	PublicSharing     bool   `yaml:"public_sharing"`
	HardenContainer   bool   `yaml:"harden_container"`
	HardenOpenbox     bool   `yaml:"harden_openbox"`
	GPU               bool   `yaml:"gpu"`
	StorageLimit      int64  `yaml:"storage_limit"`
	SessionLimit      int    `yaml:"session_limit"`
}

// DefaultUserSettings mirrors the original's DEFAULT_USER_SETTINGS, plus
// public_sharing (present in the spec's data model but absent upstream).
func DefaultUserSettings() UserSettings {
	return UserSettings{
		Active:            true,
		Group:             "none",
		PersistentStorage: true,
		PublicSharing:     true,
		HardenContainer:   false,
		HardenOpenbox:     false,
		GPU:               true,
		StorageLimit:      -1,
		SessionLimit:      -1,
	}
}

// Group is a named bundle of UserSettings overrides.
type Group struct {
	Name     string
	Settings UserSettings
}

// ProviderConfig describes how an InstalledApp is launched.
type ProviderConfig struct {
	Image                    string            `yaml:"image"`
	Port                     int               `yaml:"port"`
	NvidiaSupport            bool              `yaml:"nvidia_support"`
	Dri3Support              bool              `yaml:"dri3_support"`
	URLSupport               bool              `yaml:"url_support"`
	Extensions               []string          `yaml:"extensions,omitempty"`
	Autostart                bool              `yaml:"autostart"`
	CustomAutostartScriptB64 string            `yaml:"custom_autostart_script_b64,omitempty"`
	Env                      map[string]string `yaml:"env,omitempty"`
}

// InstalledApp is a catalog entry a user may launch.
type InstalledApp struct {
	ID              string         `yaml:"id"`
	Name            string         `yaml:"name"`
	Logo            string         `yaml:"logo,omitempty"`
	Source          string         `yaml:"source"`
	SourceAppID     string         `yaml:"source_app_id"`
	Provider        string         `yaml:"provider"`
	HomeDirectories bool           `yaml:"home_directories"`
	Users           []string       `yaml:"users"`
	Groups          []string       `yaml:"groups"`
	ProviderConfig  ProviderConfig `yaml:"provider_config"`
	AppTemplate     string         `yaml:"app_template,omitempty"`
	AutoUpdate      bool           `yaml:"auto_update"`
}

// VisibleTo implements the §3 visibility invariant.
func (a *InstalledApp) VisibleTo(username, group string) bool {
	allUsers := contains(a.Users, "all") || contains(a.Groups, "all")
	if allUsers {
		return true
	}
	if contains(a.Users, username) {
		return true
	}
	if group != "" && group != "none" && contains(a.Groups, group) {
		return true
	}
	return false
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

// AppTemplate is a named environment-variable bundle.
type AppTemplate struct {
	Name     string            `yaml:"name"`
	Settings map[string]string `yaml:"settings"`
}

// Viewer is a non-controller room participant.
type Viewer struct {
	Token      string     `yaml:"token"`
	Slot       *int       `yaml:"slot"`
	Username   string     `yaml:"username"`
	Permission Permission `yaml:"permission"`
}

// Session is the durable record SPEC_FULL.md §3 describes.
type Session struct {
	SessionID      string         `yaml:"session_id"`
	AccessToken    string         `yaml:"access_token"`
	InstanceID     string         `yaml:"instance_id"`
	IP             string         `yaml:"ip"`
	Port           int            `yaml:"port"`
	CreatedAt      time.Time      `yaml:"created_at"`
	ProviderAppID  string         `yaml:"provider_app_id"`
	Username       string         `yaml:"username"`
	HostMountPath  string         `yaml:"host_mount_path,omitempty"`
	LaunchContext  *LaunchContext `yaml:"launch_context,omitempty"`
	CustomUser     string         `yaml:"custom_user"`
	Password       string         `yaml:"password"`

	IsCollaboration        bool     `yaml:"is_collaboration"`
	MasterToken            string   `yaml:"master_token,omitempty"`
	ControllerToken        string   `yaml:"controller_token,omitempty"`
	ParticipantInviteToken string   `yaml:"participant_invite_token,omitempty"`
	ReadonlyInviteToken    string   `yaml:"readonly_invite_token,omitempty"`
	Viewers                []Viewer `yaml:"viewers,omitempty"`
	ControllerSlot         *int     `yaml:"controller_slot,omitempty"`
	MKOwnerToken           *string  `yaml:"mk_owner_token,omitempty"`
	DesignatedSpeaker      *string  `yaml:"designated_speaker,omitempty"`
	ContainerRegistry      []string `yaml:"container_registry,omitempty"`
}

// PublicShare is a downloadable, optionally password-protected file.
type PublicShare struct {
	ShareID          string     `yaml:"share_id"`
	OwnerUsername    string     `yaml:"owner_username"`
	OriginalFilename string     `yaml:"original_filename"`
	SizeBytes        int64      `yaml:"size_bytes"`
	CreatedAt        time.Time  `yaml:"created_at"`
	PasswordHash     string     `yaml:"password_hash,omitempty"`
	ExpiryTimestamp  *int64     `yaml:"expiry_timestamp,omitempty"`
}

// Upload tracks an in-progress chunked upload.
type Upload struct {
	UploadID   string `yaml:"upload_id"`
	Filename   string `yaml:"filename"`
	TotalChunks int   `yaml:"total_chunks"`
}
