package arch

// o32 little-endian model. $gp is caller-saved under o32 PIC, so the
// stubs may clobber it freely; t8 carries the symbol index and t9 the
// jump target, as the PIC call convention already requires.
func init() {
	register(&Model{
		Name:         "mips",
		PointerSize:  4,
		SymbolRelocs: []string{"R_MIPS_REL32", "R_MIPS_32"},
		tableText:    commonTable,
		trampText: `
  .globl {{.Sym}}
{{- if .Hidden}}
  .hidden {{.Sym}}
{{- end}}
  .p2align 2
  .type {{.Sym}}, @function
{{.Sym}}:
  .set noreorder
  .cpload $25
  .set reorder
  lw $25, %got(_{{.Tag}}_tramp_table+{{.Offset}})($28)
  addiu $25, $25, %lo(_{{.Tag}}_tramp_table+{{.Offset}})
  lw $25, 0($25)
  beqz $25, 1f
  jr $25
1:
  li $24, {{.Number}}
  lw $25, %got(_{{.Tag}}_save_regs_and_resolve)($28)
  addiu $25, $25, %lo(_{{.Tag}}_save_regs_and_resolve)
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
  .set noreorder
  .cpload $25
  .set reorder
  addiu $sp, $sp, -64
  .cprestore 16
  sw $4, 20($sp)
  sw $5, 24($sp)
  sw $6, 28($sp)
  sw $7, 32($sp)
  sw $31, 36($sp)
  sw $24, 40($sp)
#ifdef __mips_hard_float
  sdc1 $f12, 48($sp)
  sdc1 $f14, 56($sp)
#endif

  move $4, $24
  lw $25, %got(_{{.Tag}}_tramp_resolve)($28)
  addiu $25, $25, %lo(_{{.Tag}}_tramp_resolve)
  jalr $25

  lw $25, %got(_{{.Tag}}_tramp_table)($28)
  addiu $25, $25, %lo(_{{.Tag}}_tramp_table)
  lw $24, 40($sp)
  sll $24, $24, 2
  addu $25, $25, $24
  lw $25, 0($25)

#ifdef __mips_hard_float
  ldc1 $f14, 56($sp)
  ldc1 $f12, 48($sp)
#endif
  lw $31, 36($sp)
  lw $7, 32($sp)
  lw $6, 28($sp)
  lw $5, 24($sp)
  lw $4, 20($sp)
  addiu $sp, $sp, 64
  jr $25
`,
	})
}
