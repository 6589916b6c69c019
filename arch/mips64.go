package arch

// n64 little-endian model. Unlike o32, $gp is callee-saved under n64,
// so both the stub and the glue preserve it with .cpsetup/.cpreturn.
func init() {
	register(&Model{
		Name:         "mips64",
		PointerSize:  8,
		SymbolRelocs: []string{"R_MIPS_REL32", "R_MIPS_64"},
		tableText:    commonTable,
		trampText: `
  .globl {{.Sym}}
{{- if .Hidden}}
  .hidden {{.Sym}}
{{- end}}
  .p2align 3
  .type {{.Sym}}, @function
{{.Sym}}:
  .set noreorder
  .cpsetup $25, $3, {{.Sym}}
  .set reorder
  ld $2, %got_disp(_{{.Tag}}_tramp_table)($28)
  ld $2, {{.Offset}}($2)
  ld $25, %got_disp(_{{.Tag}}_save_regs_and_resolve)($28)
  .cpreturn
  li $24, {{.Number}}
  beqz $2, 1f
  move $25, $2
1:
  jr $25
`,
		glueText: `
  .text

  .globl _{{.Tag}}_tramp_resolve
  .hidden _{{.Tag}}_tramp_resolve

  // Expects the symbol index in $24 and $25 pointing at itself; ends
  // by jumping to the resolved address with $25 set for the callee.
  .globl _{{.Tag}}_save_regs_and_resolve
  .hidden _{{.Tag}}_save_regs_and_resolve
  .type _{{.Tag}}_save_regs_and_resolve, @function
_{{.Tag}}_save_regs_and_resolve:
  daddiu $sp, $sp, -160
  .set noreorder
  .cpsetup $25, 8, _{{.Tag}}_save_regs_and_resolve
  .set reorder
  sd $4, 16($sp)
  sd $5, 24($sp)
  sd $6, 32($sp)
  sd $7, 40($sp)
  sd $8, 48($sp)
  sd $9, 56($sp)
  sd $10, 64($sp)
  sd $11, 72($sp)
  sd $31, 80($sp)
  sd $24, 88($sp)
#ifdef __mips_hard_float
  sdc1 $f12, 96($sp)
  sdc1 $f13, 104($sp)
  sdc1 $f14, 112($sp)
  sdc1 $f15, 120($sp)
  sdc1 $f16, 128($sp)
  sdc1 $f17, 136($sp)
  sdc1 $f18, 144($sp)
  sdc1 $f19, 152($sp)
#endif

  move $4, $24
  ld $25, %got_disp(_{{.Tag}}_tramp_resolve)($28)
  jalr $25

  ld $2, %got_disp(_{{.Tag}}_tramp_table)($28)
  ld $24, 88($sp)
  dsll $24, $24, 3
  daddu $2, $2, $24
  ld $2, 0($2)

#ifdef __mips_hard_float
  ldc1 $f19, 152($sp)
  ldc1 $f18, 144($sp)
  ldc1 $f17, 136($sp)
  ldc1 $f16, 128($sp)
  ldc1 $f15, 120($sp)
  ldc1 $f14, 112($sp)
  ldc1 $f13, 104($sp)
  ldc1 $f12, 96($sp)
#endif
  ld $31, 80($sp)
  ld $11, 72($sp)
  ld $10, 64($sp)
  ld $9, 56($sp)
  ld $8, 48($sp)
  ld $7, 40($sp)
  ld $6, 32($sp)
  ld $5, 24($sp)
  ld $4, 16($sp)
  move $25, $2
  .cpreturn
  daddiu $sp, $sp, 160
  jr $25
`,
	})
}
