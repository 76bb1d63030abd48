// Package templates implements TemplateResolver (§4.E): composing the
// final launch environment from the static baseline, named template,
// caller overrides, locale, app-config overrides, and GPU extras.
package templates

import (
	"fmt"

	"github.com/streamspace/sealskin/internal/types"
)

const defaultLocale = "en_US.UTF-8"

// Resolve builds the final environment map in the strict precedence order
// from §4.E (later entries override earlier ones).
func Resolve(
	sessionID, puid, pgid, customUser, password string,
	tmpl *types.AppTemplate,
	callerEnv map[string]string,
	language string,
	appEnvOverrides map[string]string,
	gpu *types.GPU,
) map[string]string {
	env := map[string]string{
		"SUBFOLDER":   fmt.Sprintf("/%s/", sessionID),
		"PUID":        puid,
		"PGID":        pgid,
		"CUSTOM_USER": customUser,
		"PASSWORD":    password,
	}

	if tmpl != nil {
		for k, v := range tmpl.Settings {
			env[k] = v
		}
	}

	for k, v := range callerEnv {
		env[k] = v
	}

	if language != "" && language != defaultLocale {
		env["LC_ALL"] = language
	}

	for k, v := range appEnvOverrides {
		env[k] = v
	}

	if gpu != nil && gpu.Kind == types.GPUDri3 {
		env["DRI_NODE"] = gpu.Device
		env["DRINODE"] = gpu.Device
	}

	return env
}

// AppTemplateNameRegex matches SPEC_FULL.md §3's AppTemplate.name pattern.
const AppTemplateNameRegex = `^[A-Za-z0-9_ -]+$`
