package domain

var Tables = []interface{}{
	// System
	&SysConfig{},
	&SysOpr{},
	&SysOprLog{},
	&SysPartner{},
	// Messaging
	&WaSession{},
	&ChatLog{},
}
