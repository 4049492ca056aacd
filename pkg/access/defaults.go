package access

// defaultTrustTypes returns the built-in trust-type templates (spec §4.3):
// associate, viewer, friend, partner, admin, mcp_client. Every type denies
// the reserved "private/*" and "security/*" property namespaces regardless
// of its allow patterns, matching scenario F's "base trust-type exclusions
// remain enforced (union)".
func defaultTrustTypes() []TrustType {
	basePrivacy := []string{"private/*", "security/*"}

	return []TrustType{
		{
			Name:        "associate",
			DisplayName: "Associate",
			BasePermissions: map[Category]PermissionSet{
				CategoryProperties: {Allowed: []string{"public/*"}, Operations: []Operation{OpRead}, Denied: basePrivacy},
			},
		},
		{
			Name:        "viewer",
			DisplayName: "Viewer",
			BasePermissions: map[Category]PermissionSet{
				CategoryProperties: {Allowed: []string{"*"}, Operations: []Operation{OpRead}, Denied: basePrivacy},
				CategoryResources:  {Allowed: []string{"*"}, Operations: []Operation{OpRead}},
			},
		},
		{
			Name:        "friend",
			DisplayName: "Friend",
			BasePermissions: map[Category]PermissionSet{
				CategoryProperties: {Allowed: []string{"*"}, Operations: []Operation{OpRead, OpWrite, OpSubscribe}, Denied: basePrivacy},
				CategoryResources:  {Allowed: []string{"*"}, Operations: []Operation{OpRead}},
				CategoryMethods:    {Allowed: []string{"*"}, Operations: []Operation{OpRead}},
			},
			AllowUserOverride: true,
		},
		{
			Name:        "partner",
			DisplayName: "Partner",
			BasePermissions: map[Category]PermissionSet{
				CategoryProperties: {Allowed: []string{"*"}, Operations: []Operation{OpRead, OpWrite, OpDelete, OpSubscribe}, Denied: basePrivacy},
				CategoryResources:  {Allowed: []string{"*"}, Operations: []Operation{OpRead, OpWrite}},
				CategoryMethods:    {Allowed: []string{"*"}, Operations: []Operation{OpRead, OpWrite}},
				CategoryActions:    {Allowed: []string{"*"}, Operations: []Operation{OpRead, OpWrite}},
			},
			AllowUserOverride: true,
		},
		{
			Name:        "admin",
			DisplayName: "Administrator",
			BasePermissions: map[Category]PermissionSet{
				CategoryProperties: {Allowed: []string{"*"}, Operations: []Operation{OpRead, OpWrite, OpDelete, OpSubscribe}},
				CategoryResources:  {Allowed: []string{"*"}, Operations: []Operation{OpRead, OpWrite, OpDelete}},
				CategoryMethods:    {Allowed: []string{"*"}, Operations: []Operation{OpRead, OpWrite, OpDelete}},
				CategoryActions:    {Allowed: []string{"*"}, Operations: []Operation{OpRead, OpWrite, OpDelete}},
				CategoryTools:      {Allowed: []string{"*"}, Operations: []Operation{OpRead, OpWrite, OpDelete}},
				CategoryPrompts:    {Allowed: []string{"*"}, Operations: []Operation{OpRead}},
			},
		},
		{
			Name:        "mcp_client",
			DisplayName: "MCP Client",
			OAuthScope:  "actingweb.mcp",
			BasePermissions: map[Category]PermissionSet{
				CategoryProperties: {Allowed: []string{"*"}, Operations: []Operation{OpRead, OpWrite}, Denied: basePrivacy},
				CategoryTools:      {Allowed: []string{"*"}, Operations: []Operation{OpRead, OpWrite}},
				CategoryPrompts:    {Allowed: []string{"*"}, Operations: []Operation{OpRead}},
				CategoryResources:  {Allowed: []string{"*"}, Operations: []Operation{OpRead}},
			},
			AllowUserOverride: true,
		},
	}
}
